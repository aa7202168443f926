package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/points"
	"github.com/1hive/gardens-points/util"
)

// Init boots the cron server and blocks serving requests.
func Init() {
	SetDefaults()
	ctx := context.Background()
	router := CoreInit(ctx)
	logger.For(ctx).Infof("Starting points server on port %s...", env.GetString("PORT"))
	if err := router.Run(":" + env.GetString("PORT")); err != nil {
		logger.For(ctx).Fatalf("server exited: %s", err)
	}
}

// CoreInit builds the router and both campaign services.
func CoreInit(ctx context.Context) *gin.Engine {
	logger.SetLoggerOptions(func(l *logrus.Logger) {
		l.SetReportCaller(false)
	})
	if env.GetString("ENV") != "production" {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	env.MustValidate()

	campaign := points.LoadCampaign()
	multiChain := points.NewService(ctx, points.MultiChain(), campaign)
	goodDollar := points.NewService(ctx, points.GoodDollar(), campaign)

	router := gin.Default()
	return HandlersInit(router, multiChain, goodDollar)
}

// HandlersInit registers the cron routes on the router.
func HandlersInit(router *gin.Engine, multiChain, goodDollar *points.Service) *gin.Engine {
	router.GET("/alive", healthCheckHandler())
	api := router.Group("/api", CronAuth())
	api.GET("/superfluid-points", PointsHandler(multiChain))
	api.GET("/superfluid-points-gd", PointsHandler(goodDollar))
	return router
}

func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, util.SuccessResponse{Success: true})
	}
}

// SetDefaults registers environment defaults and startup validations.
func SetDefaults() {
	viper.SetDefault("ENV", "local")
	viper.SetDefault("PORT", 4000)
	viper.SetDefault("CRON_SECRET", "")
	viper.SetDefault("SUPERFLUID_CAMPAIGN_START_TIMESTAMP", 0)
	viper.SetDefault("SUPERFLUID_CAMPAIGN_END_TIMESTAMP", 0)
	viper.SetDefault("SUPERFLUID_BONUS_MULTIPLIER", 3)
	viper.SetDefault("FARCASTER_GARDENS_USERNAME", "gardens")
	viper.SetDefault("FARCASTER_GOODDOLLAR_USERNAME", "gooddollar")

	viper.AutomaticEnv()

	env.RegisterValidation("CRON_SECRET", "required")
	env.RegisterValidation("RPC_URL_CELO", "required")
	env.RegisterValidation("SUBGRAPH_URL_CELO", "required")
	env.RegisterValidation("SUPERFLUID_SUBGRAPH_URL_CELO", "required")
}
