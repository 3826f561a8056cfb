// internal/logging/logger.go
package logging

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Environment overrides, applied on top of the config file.
const (
	EnvLevel = "DISPLAYLINK_LOG_LEVEL"
	EnvJSON  = "DISPLAYLINK_JSON_LOG"
)

// NewLogger creates the root hclog logger. Components take Named() children.
func NewLogger(name, level string, json bool, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      lvl,
		JSONFormat: json,
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05.000Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Resolve applies the environment overrides to the configured level and format.
func Resolve(level string, json bool) (string, bool) {
	if v := os.Getenv(EnvLevel); v != "" {
		level = v
	}
	if v := os.Getenv(EnvJSON); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			json = b
		}
	}
	return level, json
}
