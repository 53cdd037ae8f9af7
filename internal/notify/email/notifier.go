// Package email delivers alerts over SMTP using gomail.
package email

import (
	"context"
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// sender is satisfied by *gomail.Dialer.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier sends one e-mail per alert.
type Notifier struct {
	cfg    Config
	sender sender
}

// New creates an SMTP notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email notifier requires host, from and to")
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Notifier{cfg: cfg, sender: dialer}, nil
}

// Notify implements watch.Notifier. gomail has no context support, so the
// context is only checked before dialing.
func (n *Notifier) Notify(ctx context.Context, alert watch.Alert) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if err := n.sender.DialAndSend(n.message(alert)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (n *Notifier) message(alert watch.Alert) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject(alert))
	m.SetBody("text/plain", alert.Body+"\n\n"+alert.TargetURL)
	m.AddAlternative("text/html", htmlBody(alert))
	return m
}

func subject(alert watch.Alert) string {
	if alert.Keyword == "" {
		return alert.Title
	}
	return fmt.Sprintf("%s %q", alert.Title, alert.Keyword)
}

func htmlBody(alert watch.Alert) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="UTF-8"></head><body>`)
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(alert.Title))
	for _, line := range strings.Split(alert.Body, "\n") {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(line))
	}
	url := html.EscapeString(alert.TargetURL)
	fmt.Fprintf(&b, `<p><a href="%s">%s</a></p>`, url, url)
	b.WriteString("</body></html>")
	return b.String()
}
