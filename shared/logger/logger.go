package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Init создаёт структурированный JSON-логгер. Неизвестный уровень -> info.
func Init(serviceName, level string) *logrus.Logger {
	return New(os.Stdout, serviceName, level)
}

func New(out io.Writer, serviceName, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	l.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}

	// поле service во всех записях
	l.AddHook(serviceHook{name: serviceName})
	return l
}

type serviceHook struct {
	name string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	e.Data["service"] = h.name
	return nil
}

// WithRequestID добавляет request-id в контекст логгера
func WithRequestID(logger logrus.FieldLogger, requestID string) logrus.FieldLogger {
	if requestID == "" {
		return logger
	}
	return logger.WithField("request_id", requestID)
}
