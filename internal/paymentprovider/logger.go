package paymentprovider

import (
	"fmt"
	"log/slog"
)

// slogLogger пересылает журнал SDK в slog.
type slogLogger struct {
	log *slog.Logger
}

func (l *slogLogger) Debugf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLogger) Infof(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLogger) Warnf(format string, v ...any) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l *slogLogger) Errorf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}
