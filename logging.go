package main

import (
	"fmt"
	"os"

	tls_client "github.com/bogdanfinn/tls-client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the printf-style logger every component writes to.
type Logger interface {
	Log(format string, args ...any)
	Debug(format string, args ...any)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger adapts a zap logger to Logger.
func NewLogger(z *zap.Logger) Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &zapLogger{s: z.Sugar()}
}

func (l *zapLogger) Log(format string, args ...any) {
	l.s.Infof(format, args...)
}

func (l *zapLogger) Debug(format string, args ...any) {
	l.s.Debugf(format, args...)
}

// itemLogger prefixes every line with the item position.
type itemLogger struct {
	index int
	total int
	base  Logger
}

func (l *itemLogger) Log(format string, args ...any) {
	l.base.Log("[item %d/%d] "+format, append([]any{l.index + 1, l.total}, args...)...)
}

func (l *itemLogger) Debug(format string, args ...any) {
	l.base.Debug("[item %d/%d] "+format, append([]any{l.index + 1, l.total}, args...)...)
}

// tlsClientLogger routes tls-client's internal logging into zap.
type tlsClientLogger struct {
	s *zap.SugaredLogger
}

var _ tls_client.Logger = (*tlsClientLogger)(nil)

func newTLSClientLogger(z *zap.Logger) tls_client.Logger {
	if z == nil {
		return tls_client.NewNoopLogger()
	}
	return &tlsClientLogger{s: z.Named("tls_client").Sugar()}
}

func (l *tlsClientLogger) Debug(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *tlsClientLogger) Info(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *tlsClientLogger) Warn(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *tlsClientLogger) Error(format string, args ...any) { l.s.Errorf(format, args...) }

// setupLogging builds the process logger: console output plus an optional
// rotated JSON log file.
func setupLogging(settings *Settings) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	var consoleEncoder zapcore.Encoder
	if settings.LogFormat == "json" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	}

	// stderr keeps stdout clean for run output.
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level)}

	if settings.LogFile != "" {
		fileConfig := encoderConfig
		fileConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   settings.LogFile,
			MaxSize:    settings.LogMaxSizeMB,
			MaxBackups: settings.LogMaxBackups,
			MaxAge:     settings.LogMaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), fileWriter, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("viggle"), nil
}
