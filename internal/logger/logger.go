package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger used by the CLI and scheduler.
var Logger = New("info", "json")

// New builds a logrus logger writing to stdout. Unknown levels fall back to info.
func New(level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Init replaces the package logger. DEBUG=true forces debug level.
func Init(level, format string) *logrus.Logger {
	if os.Getenv("DEBUG") == "true" {
		level = "debug"
	}
	Logger = New(level, format)
	return Logger
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func Info(msg string, fields logrus.Fields) {
	Logger.WithFields(fields).Info(msg)
}

func Error(msg string, fields logrus.Fields) {
	Logger.WithFields(fields).Error(msg)
}

func Debug(msg string, fields logrus.Fields) {
	Logger.WithFields(fields).Debug(msg)
}

func Warn(msg string, fields logrus.Fields) {
	Logger.WithFields(fields).Warn(msg)
}
