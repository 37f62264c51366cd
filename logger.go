package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/fansqz/debug-engine/config"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 根据配置设置logrus，日志文件不存在时创建
func SetupLogger(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	var out io.Writer = os.Stderr
	if cfg.Path != "" {
		if err = os.MkdirAll(filepath.Dir(cfg.Path), os.ModePerm); err != nil {
			return err
		}
		logFile, err = os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = logFile
	}
	logrus.SetOutput(out)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return nil
	}
	// 只有输出到终端时才带颜色
	tty := logFile == nil && isatty.IsTerminal(os.Stderr.Fd())
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   tty,
		DisableColors: !tty,
	})
	return nil
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
