package obs

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type appNameHook struct {
	appName string
}

func (h *appNameHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *appNameHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["app"]; !ok {
		entry.Data["app"] = h.appName
	}
	return nil
}

// NewLogger builds the process logger. format is "json" or "text"; an unknown
// level falls back to info. A nil writer means stdout.
func NewLogger(appName, level, format string, w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
		if level != "" {
			defer logger.Warnf("invalid log level %q, defaulting to info", level)
		}
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
	}
	if appName != "" {
		logger.AddHook(&appNameHook{appName: appName})
	}
	return logger
}
