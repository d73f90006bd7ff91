package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Verbose and Debug are set from the global CLI flags.
var (
	Verbose bool
	Debug   bool
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// InitLogging builds the process logger. When cfg.File is set, records go to a
// rotating file instead of stderr.
func InitLogging(cfg LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.JSON || cfg.File != "" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	l := zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level)))
	SetLogger(l)
	return l, nil
}

// SetLogger replaces the process logger. Tests use it to install zaptest or
// observer loggers.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Logger returns the process logger
func Logger() *zap.Logger {
	return logger.Load()
}

// VerboseLog logs an informational message when verbose or debug mode is on
func VerboseLog(format string, args ...interface{}) {
	if Verbose || Debug {
		Logger().Sugar().Infof(format, args...)
	}
}

// DebugLog logs a message only in debug mode
func DebugLog(format string, args ...interface{}) {
	if Debug {
		Logger().Sugar().Debugf(format, args...)
	}
}
