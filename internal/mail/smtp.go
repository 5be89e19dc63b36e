package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

type deliverFunc func(ctx context.Context, msg *gomail.Msg) error

// Sender renders messages and relays them over SMTP.
type Sender struct {
	cfg      SMTPConfig
	renderer *Renderer
	logger   *slog.Logger
	deliver  deliverFunc
	now      func() time.Time
}

// NewSender constructs a Sender.
func NewSender(cfg SMTPConfig, renderer *Renderer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sender{cfg: cfg, renderer: renderer, logger: logger, now: time.Now}
	s.deliver = s.dialAndSend
	return s
}

// Dispatch delivers msg synchronously. The relay conversation is bound to ctx.
func (s *Sender) Dispatch(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := s.renderer.Render(msg)
	if err != nil {
		return err
	}
	m, err := s.compose(msg, body)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, m); err != nil {
		return fmt.Errorf("mail: send %s to %s: %w", msg.Template, msg.To, err)
	}
	s.logger.Info("mail sent", slog.String("template", msg.Template), slog.String("to", msg.To))
	return nil
}

func (s *Sender) compose(msg Message, body string) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("mail: sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: recipient address: %w", err)
	}
	m.Subject(sanitizeHeader(msg.Subject))
	m.SetDateWithValue(s.now().UTC())
	m.SetBodyString(gomail.TypeTextHTML, body)
	return m, nil
}

func (s *Sender) dialAndSend(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
