package logging

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"time"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/trident_firewall/pkg/config"
)

// ParseLevel 配置中的日志级别名转换为logrus级别，未知级别返回WARN
func ParseLevel(name string) logrus.Level {
	switch name {
	case "DEBUG":
		return logrus.DebugLevel
	case "INFO":
		return logrus.InfoLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	case "FATAL":
		return logrus.FatalLevel
	case "PANIC":
		return logrus.PanicLevel
	default:
		return logrus.WarnLevel //默认
	}
}

// InitLogger 初始化全局日志：控制台输出、敏感信息脱敏、按时间切割的日志文件
func InitLogger(cfg *config.Config) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logrus.SetLevel(ParseLevel(cfg.Log.Level))

	// 脱敏hook必须最先注册，文件hook写出的已经是脱敏后的内容
	logrus.AddHook(NewRedactHook())

	if cfg.Log.Dir == "" {
		return nil
	}

	//1、判断文件路径和文件是否存在，不存在则创建
	if _, err := os.Stat(cfg.Log.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
			return fmt.Errorf("create log dir %s: %w", cfg.Log.Dir, err)
		}
	}
	logFileName := path.Join(cfg.Log.Dir, cfg.Log.Filename)

	maxAge := 24 * time.Hour
	if cfg.Log.MaxAge > 0 {
		maxAge = time.Duration(cfg.Log.MaxAge) * time.Hour
	}
	rotateTime := time.Hour
	if cfg.Log.RotateTime > 0 {
		rotateTime = time.Duration(cfg.Log.RotateTime) * time.Hour
	}

	//2、日志切割功能，按时间来切割
	options := []rotates.Option{
		rotates.WithMaxAge(maxAge),           //文件最大保存时间
		rotates.WithRotationTime(rotateTime), //文件切割间隔
	}
	if runtime.GOOS == "linux" {
		options = append(options, rotates.WithLinkName(logFileName)) //文件软链接
	}
	logWriter, err := rotates.New(logFileName+".%Y%m%d%H%M", options...)
	if err != nil {
		return fmt.Errorf("create rotate log writer: %w", err)
	}

	//创建 local file system hook
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})

	logrus.AddHook(lfHook)
	return nil
}
