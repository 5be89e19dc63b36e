package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	boom := errors.New("smtp down")
	assert.NoError(t, m.Track("mail:send").End(nil))
	assert.ErrorIs(t, m.Track("mail:send").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("mail:send", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("mail:send", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("mail:send")))
}

func TestMailDelivered(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.MailDelivered("welcome_email", nil)
	m.MailDelivered("welcome_email", nil)
	m.MailDelivered("reset_password", errors.New("rejected"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("welcome_email", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("reset_password", "failed")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.MailDelivered("welcome_email", nil)
	err := errors.New("x")
	assert.Equal(t, err, m.Track("job").End(err))
}
