package di

import (
	"os"

	"github.com/mix-go/xdi"
	"github.com/mix-go/xutil/xenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	obj := xdi.Object{
		Name: "zap",
		New: func() (i interface{}, e error) {
			cfg := Config()
			level := zap.NewAtomicLevelAt(zap.InfoLevel)
			if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
				return nil, err
			}
			if xenv.Getenv("APP_DEBUG").Bool(false) {
				level.SetLevel(zap.DebugLevel)
			}
			fileRotate := &lumberjack.Logger{
				Filename:   cfg.Log.Path,
				MaxSize:    cfg.Log.MaxSize,
				MaxBackups: cfg.Log.MaxBackups,
				Compress:   true,
			}
			encoderConfig := zap.NewProductionEncoderConfig()
			encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			core := zapcore.NewTee(
				zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), level),
				zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileRotate), level),
			)
			logger := zap.New(core, zap.AddCaller())
			return logger.Sugar(), nil
		},
	}
	if err := xdi.Provide(&obj); err != nil {
		panic(err)
	}
}

func Zap() (logger *zap.SugaredLogger) {
	if err := xdi.Populate("zap", &logger); err != nil {
		panic(err)
	}
	return
}
