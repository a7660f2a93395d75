package logger

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// TelegoLogger routes telego's logs through logrus. Request URLs contain the
// bot token, so it is masked in every message.
type TelegoLogger struct {
	log      logrus.FieldLogger
	replacer *strings.Replacer
}

func NewTelegoLogger(log logrus.FieldLogger, token string) *TelegoLogger {
	pairs := []string{}
	if token != "" {
		pairs = append(pairs, token, "BOT_TOKEN")
	}
	return &TelegoLogger{
		log:      log.WithField("component", "telego"),
		replacer: strings.NewReplacer(pairs...),
	}
}

func (l *TelegoLogger) Debugf(format string, args ...any) {
	l.log.Debug(l.replacer.Replace(fmt.Sprintf(format, args...)))
}

func (l *TelegoLogger) Errorf(format string, args ...any) {
	l.log.Error(l.replacer.Replace(fmt.Sprintf(format, args...)))
}
