// Package mailer dispatches task emails over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"mailcron/internal/task"
)

// ErrNoSMTP is returned when a task carries no transport settings. No
// network attempt is made in that case.
var ErrNoSMTP = errors.New("task has no SMTP settings")

// DefaultIdleTTL bounds how long an unused transport client stays cached.
const DefaultIdleTTL = 15 * time.Minute

type clientKey struct {
	host   string
	port   int
	secure bool
	user   string
}

type cachedClient struct {
	client   *mail.Client
	lastUsed time.Time
}

// Mailer sends task emails through SMTP clients cached per transport
// identity (host, port, secure, user). Clients are created lazily on first
// use and evicted after sitting idle for longer than the TTL, so credential
// rotation does not grow the cache without bound.
type Mailer struct {
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[clientKey]*cachedClient
}

// New creates a Mailer. A non-positive idleTTL falls back to DefaultIdleTTL.
func New(idleTTL time.Duration) *Mailer {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Mailer{
		idleTTL: idleTTL,
		clients: make(map[clientKey]*cachedClient),
	}
}

// Send delivers the task's email to all recipients as a single message,
// with the plain-text body and a paragraph-per-line HTML alternative.
func (m *Mailer) Send(ctx context.Context, t *task.Task) error {
	if t.SMTP == nil {
		return ErrNoSMTP
	}

	client, err := m.client(t.SMTP)
	if err != nil {
		return err
	}

	from := t.SMTP.From
	if from == "" {
		from = t.SMTP.User
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", from, err)
	}
	if err := msg.To(t.Recipients...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(t.Subject)
	msg.SetBodyString(mail.TypeTextPlain, t.Body)
	msg.AddAlternativeString(mail.TypeTextHTML, RenderHTML(t.Body))

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail via %s:%d: %w", t.SMTP.Host, t.SMTP.Port, err)
	}
	return nil
}

// Close drops every cached client.
func (m *Mailer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.clients {
		_ = entry.client.Close()
		delete(m.clients, key)
	}
}

func (m *Mailer) client(cfg *task.SMTPConfig) (*mail.Client, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(now)

	key := clientKey{host: cfg.Host, port: cfg.Port, secure: cfg.Secure, user: cfg.User}
	if entry, ok := m.clients[key]; ok {
		entry.lastUsed = now
		return entry.client, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Pass),
	}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("configuring transport for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	m.clients[key] = &cachedClient{client: client, lastUsed: now}
	return client, nil
}

func (m *Mailer) pruneLocked(now time.Time) {
	for key, entry := range m.clients {
		if now.Sub(entry.lastUsed) > m.idleTTL {
			_ = entry.client.Close()
			delete(m.clients, key)
		}
	}
}

// RenderHTML wraps each line of the plain-text body in a paragraph element.
// Blank lines become non-breaking-space paragraphs so blank-line layout
// survives HTML rendering.
func RenderHTML(body string) string {
	lines := strings.Split(body, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			b.WriteString("<p>&nbsp;</p>")
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return b.String()
}
