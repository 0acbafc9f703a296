package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const serviceName = "sentinel-backbone"

var Logger *logrus.Logger

// serviceHook stamps every entry with the service name so log lines from
// intake, stream and verification paths aggregate under one label.
type serviceHook struct{}

func (h *serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = serviceName
	}
	return nil
}

// InitLogger initializes the global logger
func InitLogger(level, format, output, file string) error {
	Logger = logrus.New()
	Logger.AddHook(&serviceHook{})

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return NewAppError(ErrCodeConfiguration, "Invalid log level", level)
	}
	Logger.SetLevel(logLevel)

	switch format {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	var out io.Writer
	switch {
	case output == "file" && file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewAppError(ErrCodeConfiguration, "Cannot open log file", err.Error())
		}
		out = f
	case output == "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}
	Logger.SetOutput(out)

	return nil
}

// GetLogger returns the global logger, initializing it with defaults when a
// component asks for it before the application configured logging.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "text", "stdout", "")
	}
	return Logger
}
