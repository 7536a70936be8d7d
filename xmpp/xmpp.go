package xmpp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-xmpp"
	log "github.com/sirupsen/logrus"
)

var ErrMissingConfig = errors.New("missing xmpp config")

type (
	// Config of the notification account.
	Config struct {
		Host     string
		Jid      string
		Password string
		To       string
	}

	Xmpp struct {
		Config Config
	}
)

func serverName(jid string) string {
	parts := strings.SplitN(jid, "@", 2)
	if len(parts) < 2 {
		return jid
	}
	return strings.SplitN(parts[1], "/", 2)[0]
}

// Enabled reports whether the account is configured.
func (x Xmpp) Enabled() bool {
	return len(x.Config.Jid) > 0 && len(x.Config.Password) > 0 && len(x.Config.To) > 0
}

func (x Xmpp) options() xmpp.Options {
	host := x.Config.Host
	if len(host) == 0 {
		host = serverName(x.Config.Jid)
	}

	return xmpp.Options{
		Host:          host,
		User:          x.Config.Jid,
		Password:      x.Config.Password,
		NoTLS:         true,
		StartTLS:      true,
		TLSConfig:     &tls.Config{ServerName: serverName(x.Config.Jid)},
		Debug:         false,
		Session:       false,
		Status:        "xa",
		StatusMessage: "Sailing simulated routes",
	}
}

// Notify sends message to the configured recipient.
func (x Xmpp) Notify(message string) error {
	if !x.Enabled() {
		log.Warn("Missing xmpp config")
		return ErrMissingConfig
	}

	options := x.options()
	log.WithFields(log.Fields{
		"host": options.Host,
		"to":   x.Config.To,
	}).Debug("Create xmpp client")

	talk, err := options.NewClient()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", options.Host, err)
	}
	defer talk.Close()

	if _, err := talk.Send(xmpp.Chat{Remote: x.Config.To, Type: "chat", Text: message}); err != nil {
		return fmt.Errorf("sending to %s: %w", x.Config.To, err)
	}
	return nil
}
