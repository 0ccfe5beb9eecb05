package options

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

func GetEnvOrDefault(env, defaultVal string) string {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	return e
}

// GetEnvOrDefaultInt falls back to defaultVal when the variable is unset or
// does not parse.
func GetEnvOrDefaultInt(env string, defaultVal int64) int64 {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		logrus.Errorf("Failed to parse env %s=%q as int, using %d", env, e, defaultVal)
		return defaultVal
	}
	return v
}
