package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOptions configures the zap-backed logger used by the binaries.
type ZapOptions struct {
	Level       string // "debug", "info", "warn", "error"; default "info"
	LogFile     string // write to this file instead of stderr when set
	Development bool   // console encoder with human-readable timestamps
}

// zapAdapter hides zap types behind the Logger interface
type zapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger creates a Logger backed by a zap SugaredLogger. The returned
// sync function flushes buffered entries and should be deferred by main.
func NewZapLogger(options ZapOptions) (Logger, func(), error) {
	level := zapcore.InfoLevel
	if options.Level != "" {
		if err := level.Set(options.Level); err != nil {
			return nil, nil, err
		}
	}

	var config zap.Config
	if options.Development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(level)
	if options.LogFile != "" {
		config.OutputPaths = []string{options.LogFile}
		config.ErrorOutputPaths = []string{options.LogFile}
	}

	zapLogger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, nil, err
	}

	adapter := &zapAdapter{sugar: zapLogger.Sugar()}
	sync := func() {
		_ = zapLogger.Sync()
	}
	return adapter, sync, nil
}

func (z *zapAdapter) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelInfo:
		z.sugar.Infof(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	}
}

func (z *zapAdapter) Debugf(msg string, args ...interface{}) {
	z.sugar.Debugf(msg, args...)
}

func (z *zapAdapter) Infof(msg string, args ...interface{}) {
	z.sugar.Infof(msg, args...)
}

func (z *zapAdapter) Warnf(msg string, args ...interface{}) {
	z.sugar.Warnf(msg, args...)
}

func (z *zapAdapter) Errorf(msg string, args ...interface{}) {
	z.sugar.Errorf(msg, args...)
}
