package route

import (
	log "github.com/sirupsen/logrus"
)

// Notifier delivers short user facing messages.
type Notifier interface {
	Notify(message string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(message string) error {
	log.WithField("notification", true).Info(message)
	return nil
}
