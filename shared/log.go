package shared

import (
	log "github.com/sirupsen/logrus"
)

func PanicOnError(err error, msg string) {
	if err != nil {
		log.Panicf("%s: %s", err, msg)
	}
}

type UTCFormatter struct {
	log.Formatter
}

func (u UTCFormatter) Format(e *log.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

// InitLog sets the UTC text formatter. LOG_LEVEL overrides the debug default.
func InitLog() {
	log.SetFormatter(UTCFormatter{&log.TextFormatter{DisableColors: true}})
	level, err := log.ParseLevel(GetEnvDefault("LOG_LEVEL", "debug"))
	if err != nil {
		level = log.DebugLevel
	}
	log.SetLevel(level)
}
