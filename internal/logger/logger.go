package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"binance-ai-trader-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultLogFile = "logs/trader.log"

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// InitLogger 初始化全局日志记录器 and returns it for injection into components.
// Console output goes to stdout.
func InitLogger(cfg models.LogConfig) *zap.Logger {
	l := New(cfg, os.Stdout)
	mu.Lock()
	global = l
	mu.Unlock()
	return l
}

// New builds a logger from cfg without touching the global one. Console output is written to
// console; file output is rotated by lumberjack.
func New(cfg models.LogConfig, console io.Writer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	var cores []zapcore.Core
	output := strings.ToLower(cfg.Output)
	if output == "file" || output == "both" {
		cores = append(cores, zapcore.NewCore(encoder(cfg.Format, false), zapcore.AddSync(rotator(cfg)), level))
	}
	if output == "console" || output == "both" || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder(cfg.Format, true), zapcore.AddSync(console), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// encoder picks the line format. Colors are only used for console text.
func encoder(format string, color bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	if color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(ec)
}

func rotator(cfg models.LogConfig) *lumberjack.Logger {
	r := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if r.Filename == "" {
		r.Filename = defaultLogFile
	}
	if r.MaxSize <= 0 {
		r.MaxSize = 100
	}
	return r
}

// L returns the global logger; before InitLogger it is a development logger.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		l, _ = zap.NewDevelopment()
	}
	return l
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	return L().Sugar()
}
