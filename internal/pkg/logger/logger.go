/*
Package logger 全局日志系统

基于 zap 的结构化日志：
  - console（终端，带颜色）/ json（日志收集）两种格式
  - 配置文件路径后同时写文件和控制台，文件由 lumberjack 按大小轮转
  - Init 后替换 zap.L() / zap.S()，各组件通过 zap.L().Named(...) 取子日志器
  - 日志级别可在运行中修改（配置热更新）

使用示例：

	logger.Init(&logger.Config{Level: "info", Format: "console"})
	logger.Named("forwarder").Info("转发引擎已启动")
	logger.SetLevel("debug")
*/
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	/* Logger 全局结构化日志器 */
	Logger = zap.NewNop()
	/* level 全局日志级别，所有由 Init 创建的日志器共享 */
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

/*
Config 日志配置
*/
type Config struct {
	Level      string `yaml:"level" json:"level"`             /* debug, info, warn, error */
	Format     string `yaml:"format" json:"format"`           /* json, console */
	OutputPath string `yaml:"output_path" json:"output_path"` /* 为空则仅输出到控制台 */
	MaxSize    int    `yaml:"max_size" json:"max_size"`       /* 单个文件大小（MB） */
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"` /* 天 */
	Compress   bool   `yaml:"compress" json:"compress"`
}

/*
Init 初始化或重置全局日志系统
功能：可多次调用（启动时先用默认配置，加载配置文件后重建），
每次调用都会替换全局 zap.L() 和 zap.S()
*/
func Init(cfg *Config) error {
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 10
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 30
	}
	level.SetLevel(ParseLevel(cfg.Level))

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	writeSyncer := zapcore.AddSync(os.Stdout)
	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
			return err
		}
		writeSyncer = zapcore.NewMultiWriteSyncer(
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.OutputPath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}),
			writeSyncer,
		)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	Logger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	zap.ReplaceGlobals(Logger)
	return nil
}

/*
ParseLevel 解析日志级别，未知值按 info 处理
*/
func ParseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

/*
SetLevel 运行中修改日志级别
*/
func SetLevel(s string) {
	next := ParseLevel(s)
	if level.Level() == next {
		return
	}
	level.SetLevel(next)
	Logger.Info("日志级别已更新", zap.String("level", next.String()))
}

/* Level 当前日志级别 */
func Level() zapcore.Level { return level.Level() }

/* Sync 刷新日志缓冲区，应在程序退出前调用 */
func Sync() {
	_ = Logger.Sync()
}

/* Named 创建带模块名的子日志器 */
func Named(name string) *zap.Logger {
	return Logger.Named(name)
}

func Info(msg string, fields ...zap.Field)  { Logger.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Logger.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Logger.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Logger.Fatal(msg, fields...) }
