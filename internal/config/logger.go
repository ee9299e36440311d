package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger は設定に従って構造化ロガーを初期化します。
func NewLogger(cfg *Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	level := logrus.InfoLevel
	if cfg != nil {
		if parsed, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)

	return logger
}
