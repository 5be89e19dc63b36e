package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
)

type recordingDispatcher struct {
	sent []mail.Message
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg mail.Message) error {
	d.sent = append(d.sent, msg)
	return d.err
}

func TestNewSendEmailTask(t *testing.T) {
	msg := mail.Message{To: "ada@example.com", Subject: "Welcome", Template: mail.TemplateWelcome, Data: map[string]any{"Link": "x"}}
	task, err := NewSendEmailTask(msg)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeSendEmail, task.Type())

	var decoded mail.Message
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, msg, decoded)

	_, err = NewSendEmailTask(mail.Message{Template: mail.TemplateWelcome})
	assert.Error(t, err)
}

func TestEmailHandlerDelivers(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := NewEmailHandler(dispatcher, jobmetrics.NewMetrics(prometheus.NewRegistry()), nil)

	task, err := NewSendEmailTask(mail.Message{To: "ada@example.com", Template: mail.TemplateResetPassword})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, mail.TemplateResetPassword, dispatcher.sent[0].Template)

	dispatcher.err = errors.New("relay down")
	assert.ErrorContains(t, h.ProcessTask(context.Background(), task), "relay down")
}

func TestEmailHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := NewEmailHandler(&recordingDispatcher{}, nil, nil)
	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())
}
