package logger

import (
	"binance-trade-bot-go/internal/models"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var baseLogger *zap.Logger

// InitLogger 初始化zap日志记录器
func InitLogger(cfg models.LogConfig) *zap.Logger {
	baseLogger = New(cfg)
	return baseLogger
}

// New 根据配置创建一个新的 logger, 不影响全局实例
func New(cfg models.LogConfig) *zap.Logger {
	// 配置日志级别
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		// 文件中不写入颜色控制符
		fileEncoderConfig := encoderConfig
		fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig), zapcore.AddSync(lumberjackLogger), logLevel))
	}

	// 为控制台输出启用颜色
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	switch {
	case output == "stderr":
		// 命令行工具的表格写到 stdout, 日志不能混进去
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), logLevel))
	case output == "console" || output == "both" || len(cores) == 0:
		// 如果没有有效的core（例如配置错误），也默认输出到控制台
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), logLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// L 返回全局的 logger 实例，用于注入到各个组件
func L() *zap.Logger {
	if baseLogger == nil {
		// 如果logger未初始化，则提供一个默认的应急logger
		logger, _ := zap.NewDevelopment()
		return logger
	}
	return baseLogger
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	return L().Sugar()
}
