package config

import (
    "os"

    "github.com/sirupsen/logrus"
)

// NewLogger builds the process logger.  Development gets coloured text
// output; every other environment gets JSON so log shippers can index
// the structured fields.  An unknown level falls back to info.
func NewLogger(level, env string) *logrus.Logger {
    log := logrus.New()
    log.SetOutput(os.Stdout)
    if env == "dev" {
        log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    } else {
        log.SetFormatter(&logrus.JSONFormatter{})
    }
    lvl, err := logrus.ParseLevel(level)
    if err != nil {
        lvl = logrus.InfoLevel
        log.WithField("level", level).Warn("unknown log level, using info")
    }
    log.SetLevel(lvl)
    return log
}
