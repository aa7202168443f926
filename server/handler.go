package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/1hive/gardens-points/env"
	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/points"
)

// CronAuth rejects requests that do not carry the scheduler's bearer token.
func CronAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+env.GetString("CRON_SECRET") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// PointsHandler runs one campaign variant end to end. The request's log output
// is buffered so the transcript can be pinned alongside the result.
func PointsHandler(svc *points.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sink := logger.NewMemorySink()
		runLogger := logrus.New()
		runLogger.SetOutput(logger.For(nil).Logger.Out)
		runLogger.SetLevel(logrus.InfoLevel)
		runLogger.AddHook(sink)
		ctx := logger.NewContextWithLogger(c.Request.Context(), logrus.Fields{"campaign": svc.Variant.Name}, runLogger)

		if svc.Campaign.Ended(time.Now()) {
			c.JSON(http.StatusOK, gin.H{"message": "Campaign has ended"})
			return
		}

		res, err := svc.Run(ctx)
		if err != nil {
			var notConfigured points.ErrLedgerNotConfigured
			if errors.As(err, &notConfigured) {
				logger.For(ctx).Errorf("aborting run: %s", notConfigured)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Stack client not configured"})
				return
			}
			logger.For(ctx).Errorf("run failed: %s", err)
			creationCID, transferCID := svc.FlushCaches(ctx)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":                 err.Error(),
				"creationBlockCacheCid": creationCID,
				"transferLogCacheCid":   transferCID,
				"runLogsCid":            svc.PinRunLog(ctx, sink.Lines()),
			})
			return
		}

		res.RunLogsCID = svc.PinRunLog(ctx, sink.Lines())
		c.JSON(http.StatusOK, res)
	}
}
