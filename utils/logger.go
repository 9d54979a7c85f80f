package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every entry written by the process logger.
const ServiceName = "sandwichbot"

var (
	log  *zap.Logger
	once sync.Once
)

// LoggerConfig is the JSON production config the bot logs with. Entries go
// to stdout plus any extra paths, such as a log file.
func LoggerConfig(debug bool, outputPaths ...string) zap.Config {
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		// Keep every debug entry; sampling would hide per-tx decisions
		config.Sampling = nil
	}

	config.OutputPaths = append([]string{"stdout"}, outputPaths...)
	config.ErrorOutputPaths = []string{"stderr"}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"
	config.InitialFields = map[string]interface{}{"service": ServiceName}
	return config
}

// InitLogger builds the process logger on first use. Later calls return
// the same logger and ignore their arguments.
func InitLogger(debug bool, outputPaths ...string) *zap.Logger {
	once.Do(func() {
		logger, err := LoggerConfig(debug, outputPaths...).Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		if err != nil {
			panic(err)
		}
		log = logger
	})

	return log
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
