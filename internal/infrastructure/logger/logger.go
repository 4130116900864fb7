package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide sugared logger. It satisfies the narrow
// Debugf/Infof/Warnf/Errorf interfaces the components depend on.
type Logger struct {
	*zap.SugaredLogger
	file *lumberjack.Logger
}

// New logs human-readable lines to stdout. When logFile is set the same
// records are also written as JSON to a size-rotated file.
func New(logLevel, logFile string) (*Logger, error) {
	return build(logLevel, logFile, zapcore.Lock(os.Stdout))
}

func build(logLevel, logFile string, console zapcore.WriteSyncer) (*Logger, error) {
	level := zapcore.InfoLevel
	badLevel := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))) != nil
	if badLevel {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), console, level),
	}

	var file *lumberjack.Logger
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level))
	}

	l := &Logger{
		SugaredLogger: zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).Sugar(),
		file:          file,
	}
	if badLevel {
		l.Warnf("Unknown log level %q, falling back to info", logLevel)
	}
	return l, nil
}

// Close flushes buffered records and releases the log file.
func (l *Logger) Close() {
	_ = l.Sync()
	if l.file != nil {
		_ = l.file.Close()
	}
}
