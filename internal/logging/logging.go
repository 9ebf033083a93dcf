// Package logging 负责构建 zap 日志实例，并提供统一的字段命名。
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	var zcfg zap.Config
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "tokenwatch")), nil
}

func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv 读取 TOKENWATCH_LOG_LEVEL / TOKENWATCH_LOG_FORMAT。
func FromEnv() Config {
	return Config{
		Level:  getenv("TOKENWATCH_LOG_LEVEL", "info"),
		Format: getenv("TOKENWATCH_LOG_FORMAT", "console"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func Component(name string) zap.Field { return zap.String("component", name) }

func Device(name string) zap.Field { return zap.String("device", name) }

func Backend(name string) zap.Field { return zap.String("backend", name) }

func SystemID(id string) zap.Field { return zap.String("system_id", id) }

func URL(u string) zap.Field { return zap.String("url", u) }

func Method(method string) zap.Field { return zap.String("method", method) }

func Addr(addr string) zap.Field { return zap.String("addr", addr) }

func EventKind(kind string) zap.Field { return zap.String("event", kind) }
