package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func TestRendererTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	body, err := r.Render(Message{Template: TemplateWelcome, Data: map[string]any{
		"FirstName": "Ada", "Email": "ada@example.com", "Link": "https://id.example.com/verify?hash=abc",
	}})
	require.NoError(t, err)
	assert.Contains(t, body, "Welcome, Ada!")
	assert.Contains(t, body, "https://id.example.com/verify?hash=abc")

	body, err = r.Render(Message{Template: TemplateResetPassword, Data: map[string]any{"FirstName": "<b>x</b>"}})
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;b&gt;x&lt;/b&gt;")

	_, err = r.Render(Message{Template: "missing"})
	assert.Error(t, err)
}

func TestSenderDispatch(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	s := NewSender(SMTPConfig{Host: "mail.local", Port: 2525, From: "no-reply@odyssey.local"}, r, nil)
	s.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	var sent []*gomail.Msg
	s.deliver = func(ctx context.Context, msg *gomail.Msg) error {
		sent = append(sent, msg)
		return nil
	}

	err = s.Dispatch(context.Background(), Message{
		To: "ada@example.com", Subject: "Welcome\r\nBcc: x@evil", Template: TemplateWelcome,
		Data: map[string]any{"FirstName": "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ada@example.com"}, sent[0].GetToString())
	raw := render(t, sent[0])
	assert.Contains(t, raw, "Welcome  Bcc: x@evil")
	assert.NotContains(t, raw, "\r\nBcc:")
	assert.Contains(t, raw, "text/html")

	err = s.Dispatch(context.Background(), Message{To: "ada@example.com", Subject: "Selamat datang, Ádá", Template: TemplateWelcome})
	require.NoError(t, err)
	require.Len(t, sent, 2)
	raw = render(t, sent[1])
	assert.Contains(t, raw, "Subject: =?UTF-8?")
	assert.NotContains(t, raw, "Ádá")

	s.deliver = func(context.Context, *gomail.Msg) error { return errors.New("relay down") }
	err = s.Dispatch(context.Background(), Message{To: "ada@example.com", Template: TemplateWelcome})
	assert.ErrorContains(t, err, "relay down")

	assert.Error(t, s.Dispatch(context.Background(), Message{Template: TemplateWelcome}))
	assert.Error(t, s.Dispatch(context.Background(), Message{To: "not an address", Template: TemplateWelcome}))
}

func TestSenderHonoursCancelledContext(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	s := NewSender(SMTPConfig{Host: "mail.local", Port: 2525, From: "no-reply@odyssey.local"}, r, nil)
	called := false
	s.deliver = func(context.Context, *gomail.Msg) error {
		called = true
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Dispatch(ctx, Message{To: "ada@example.com", Template: TemplateWelcome}), context.Canceled)
	assert.False(t, called)
}

func render(t *testing.T, msg *gomail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}
