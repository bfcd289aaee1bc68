package logger

import (
	"log/slog"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newZapHandler: JSON в stage/prod, цветной console в dev. Sampling отключается SampleInitial < 0.
func newZapHandler(cfg Config) slog.Handler {
	lvl := cfg.level()

	var enc zapcore.Encoder
	if cfg.Env == EnvDev {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "ts"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.Output), zapLevel(lvl))
	if cfg.SampleInitial >= 0 {
		// эвикции при broadcast идут пачками
		core = zapcore.NewSamplerWithOptions(core, time.Second,
			orDefault(cfg.SampleInitial, 100), orDefault(cfg.SampleThereafter, 10))
	}

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return slogzap.Option{Level: lvl, Logger: zap.New(core, opts...)}.NewZapHandler()
}

// zapLevel: шаг уровней slog равен 4, у zap 1.
func zapLevel(lvl slog.Level) zapcore.Level {
	l := zapcore.Level(lvl / 4)
	if l < zapcore.DebugLevel {
		return zapcore.DebugLevel
	}
	if l > zapcore.ErrorLevel {
		return zapcore.ErrorLevel
	}
	return l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
