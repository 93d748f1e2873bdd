// Package notify delivers job and import notifications to Telegram-style
// webhooks, email and a generic JSON webhook.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cwygoda/musicgrabber/internal/adapter/webapi"
	"github.com/cwygoda/musicgrabber/internal/domain"
)

const requestTimeout = 10 * time.Second

// bucket maps a notification type to its notify_on name.
var bucket = map[domain.NotificationType]string{
	domain.NotifySingle:   "singles",
	domain.NotifyPlaylist: "playlists",
	domain.NotifyBulk:     "bulk",
	domain.NotifyError:    "errors",
}

// Mail is one outgoing email.
type Mail struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
	StartTLS bool
	Body     []byte
}

// MailSender delivers a Mail.
type MailSender func(ctx context.Context, m Mail) error

// Notifier implements domain.Notifier over every configured channel.
type Notifier struct {
	settings domain.Settings
	client   *webapi.Client
	sendMail MailSender
	log      zerolog.Logger
}

// New creates a Notifier.
func New(settings domain.Settings, log zerolog.Logger) *Notifier {
	return &Notifier{
		settings: settings,
		client:   webapi.New(requestTimeout),
		sendMail: SendSMTP,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

// Enabled reports whether n passes the notify_on filter. Failures are
// delivered whenever errors are enabled, whatever their type.
func (s *Notifier) Enabled(n domain.Notification) bool {
	enabled := make(map[string]bool)
	for _, t := range strings.Split(s.settings.String("notify_on", "playlists,bulk,errors"), ",") {
		enabled[strings.ToLower(strings.TrimSpace(t))] = true
	}
	name, ok := bucket[n.Type]
	if !ok {
		name = string(n.Type)
	}
	isError := n.Status == string(domain.StatusFailed) || n.Error != ""
	return enabled[name] || (isError && enabled["errors"])
}

// Notify sends n to every configured channel. Delivery errors are logged.
func (s *Notifier) Notify(ctx context.Context, n domain.Notification) {
	if !s.Enabled(n) {
		return
	}
	body, subject := Message(n)

	if err := s.telegram(ctx, body); err != nil {
		s.log.Warn().Err(err).Msg("telegram notification failed")
	}
	if err := s.email(ctx, subject, body); err != nil {
		s.log.Warn().Err(err).Msg("email notification failed")
	}
	if err := s.webhook(ctx, n); err != nil {
		s.log.Warn().Err(err).Msg("webhook notification failed")
	}
}

// Message renders the text body and subject line shared by chat and email.
func Message(n domain.Notification) (body, subject string) {
	tag := "[OK]"
	switch n.Status {
	case string(domain.StatusFailed):
		tag = "[FAILED]"
	case string(domain.StatusCompletedWithErrors):
		tag = "[PARTIAL]"
	}
	lines := []string{"MusicGrabber " + tag}
	subject = "MusicGrabber " + tag

	switch n.Type {
	case domain.NotifySingle:
		info := n.Title
		if n.Artist != "" {
			info = n.Artist + " - " + n.Title
		}
		lines = append(lines, info)
		subject += " - " + info
		if n.Source != "" {
			s := string(n.Source)
			lines = append(lines, "Source: "+strings.ToUpper(s[:1])+s[1:])
		}
	case domain.NotifyPlaylist:
		name := n.PlaylistName
		if name == "" {
			name = n.Title
		}
		lines = append(lines, "Playlist: "+name)
		subject += " - Playlist: " + name
		if summary := countSummary(n); summary != "" {
			lines = append(lines, summary)
		}
	case domain.NotifyBulk:
		lines = append(lines, "Bulk import: "+n.Title)
		subject += " - Bulk import"
		if summary := countSummary(n); summary != "" {
			lines = append(lines, summary)
		}
	}
	if n.Error != "" {
		lines = append(lines, "Error: "+n.Error)
	}
	return strings.Join(lines, "\n"), subject
}

func countSummary(n domain.Notification) string {
	if n.TrackCount == 0 {
		return ""
	}
	parts := []string{fmt.Sprintf("%d tracks", n.TrackCount)}
	if n.FailedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n.FailedCount))
	}
	if n.SkippedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n.SkippedCount))
	}
	return strings.Join(parts, ", ")
}

func (s *Notifier) telegram(ctx context.Context, text string) error {
	u := s.settings.String("telegram_webhook_url", "")
	if u == "" {
		return nil
	}
	return s.client.Do(ctx, webapi.Request{
		Method: "POST",
		URL:    u,
		Body:   map[string]string{"text": text},
	}, nil)
}

// webhookPayload is the generic webhook body.
type webhookPayload struct {
	Event        string `json:"event"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Artist       string `json:"artist,omitempty"`
	Source       string `json:"source,omitempty"`
	Error        string `json:"error,omitempty"`
	TrackCount   *int   `json:"track_count,omitempty"`
	FailedCount  *int   `json:"failed_count,omitempty"`
	SkippedCount *int   `json:"skipped_count,omitempty"`
	PlaylistName string `json:"playlist_name,omitempty"`
}

func (s *Notifier) webhook(ctx context.Context, n domain.Notification) error {
	u := s.settings.String("webhook_url", "")
	if u == "" {
		return nil
	}
	p := webhookPayload{
		Event:        "download." + n.Status,
		Type:         string(n.Type),
		Title:        n.Title,
		Status:       n.Status,
		Artist:       n.Artist,
		Source:       string(n.Source),
		Error:        n.Error,
		PlaylistName: n.PlaylistName,
	}
	if n.Type == domain.NotifyPlaylist || n.Type == domain.NotifyBulk {
		p.TrackCount, p.FailedCount, p.SkippedCount = &n.TrackCount, &n.FailedCount, &n.SkippedCount
	}
	return s.client.Do(ctx, webapi.Request{Method: "POST", URL: u, Body: p}, nil)
}

func (s *Notifier) email(ctx context.Context, subject, body string) error {
	host := s.settings.String("smtp_host", "")
	to := s.settings.String("smtp_to", "")
	if host == "" || to == "" {
		return nil
	}
	m := Mail{
		Host:     host,
		Port:     s.settings.Int("smtp_port", 587),
		User:     s.settings.String("smtp_user", ""),
		Password: s.settings.String("smtp_pass", ""),
		From:     s.settings.String("smtp_from", ""),
		StartTLS: s.settings.Bool("smtp_tls", true),
	}
	if m.From == "" {
		m.From = m.User
	}
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			m.To = append(m.To, addr)
		}
	}
	m.Body = []byte("Subject: " + subject + "\r\n" +
		"From: " + m.From + "\r\n" +
		"To: " + strings.Join(m.To, ", ") + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
		"\r\n" + strings.ReplaceAll(body, "\n", "\r\n") + "\r\n")
	return s.sendMail(ctx, m)
}

// SendSMTP delivers m over SMTP, upgrading with STARTTLS when asked and
// authenticating when credentials are set.
func SendSMTP(ctx context.Context, m Mail) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	d := net.Dialer{Timeout: requestTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(requestTimeout * 3))
	}

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "smtp handshake")
	}
	defer c.Close()

	if m.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}
	if m.User != "" && m.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", m.User, m.Password, m.Host)); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}
	if err := c.Mail(m.From); err != nil {
		return errors.Wrap(err, "smtp from")
	}
	for _, rcpt := range m.To {
		if err := c.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "smtp rcpt %s", rcpt)
		}
	}
	w, err := c.Data()
	if err != nil {
		return errors.Wrap(err, "smtp data")
	}
	if _, err := w.Write(m.Body); err != nil {
		return errors.Wrap(err, "smtp write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "smtp close data")
	}
	return c.Quit()
}
