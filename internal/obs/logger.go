package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tennis-alarm-backend/config"
)

// ServiceName tags every log line and identifies the binary.
const ServiceName = "tennisd"

// NewLogger builds the process logger from the log section of the config.
// Pretty selects the console encoder; an unknown level falls back to info.
func NewLogger(c config.LogConfig, version string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Pretty {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = !c.Pretty

	return zc.Build(zap.Fields(
		zap.String("service", ServiceName),
		zap.String("version", version),
	))
}
