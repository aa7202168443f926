package env

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

var (
	mu          sync.Mutex
	validations = map[string]string{}
)

// RegisterValidation registers a validation tag for an environment variable.
// Validations are evaluated by MustValidate at server startup so that a
// missing credential fails fast instead of surfacing mid-run.
func RegisterValidation(key string, tags string) {
	mu.Lock()
	defer mu.Unlock()
	validations[key] = tags
}

// MustValidate panics if any registered required variable is unset.
func MustValidate() {
	mu.Lock()
	defer mu.Unlock()
	var missing []string
	for key, tags := range validations {
		if strings.Contains(tags, "required") && viper.GetString(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}
}

func GetString(key string) string {
	return viper.GetString(key)
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	return viper.GetInt64(key)
}

func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}
