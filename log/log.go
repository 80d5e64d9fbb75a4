package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 默认的日志实例，进程内共享
var logger *zap.SugaredLogger

func init() {
	logger = newSugaredLogger("./log/storesync.log")
}

// newSugaredLogger 构造基于 lumberjack 滚动切割的 zap logger
func newSugaredLogger(fileName string) *zap.SugaredLogger {
	writer := &lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    64, // 单文件最大 64 MB
		MaxBackups: 8,
		MaxAge:     30, // 保留 30 天
		Compress:   false,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(writer), zapcore.InfoLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// SetLogger 允许使用方注入自定义 logger，单测场景下使用
func SetLogger(l *zap.SugaredLogger) {
	logger = l
}

func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

func InfoContextf(ctx context.Context, format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func WarnContextf(ctx context.Context, format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func ErrorContextf(ctx context.Context, format string, args ...interface{}) {
	logger.Errorf(format, args...)
}
