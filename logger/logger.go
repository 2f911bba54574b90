package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = zap.NewNop()
	mu           sync.RWMutex
)

// LogLevel 定义日志级别
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Config 定义日志配置
type Config struct {
	Level      LogLevel
	OutputPath string // rotated JSON log file; empty means console only
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	Console    bool // human readable console encoder instead of JSON
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger builds the process-wide logger. Calling it again replaces the
// previous logger after flushing it.
func InitLogger(config Config) error {
	level := config.Level.zapLevel()

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var consoleEncoder zapcore.Encoder
	if config.Console {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		consoleEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level),
	}

	if config.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
			return err
		}
		// 使用 lumberjack 进行日志轮转
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.OutputPath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level))
	}

	l := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1), // skip the package-level helpers below
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	mu.Lock()
	old := globalLogger
	globalLogger = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// SetLogger swaps the process-wide logger, mainly for tests.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// L returns the current logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Sync flushes buffered log entries.
func Sync() error {
	return L().Sync()
}

// Debug 输出调试级别日志
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

// Info 输出信息级别日志
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

// Warn 输出警告级别日志
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

// Error 输出错误级别日志
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// 辅助函数，用于创建字段
func String(key string, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }

func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

func Strings(key string, val []string) zap.Field { return zap.Strings(key, val) }

// ErrorField 创建错误字段
func ErrorField(err error) zap.Field { return zap.Error(err) }

func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

// Duration 创建持续时间字段
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
