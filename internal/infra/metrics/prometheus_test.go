package metrics

import (
	"testing"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_RecordsDataAccessEvents(t *testing.T) {
	m := NewPrometheus(prometheus.NewRegistry(), "shopdesk-test")

	m.SessionCreated()
	m.SessionCreated()
	m.SessionReplaced("disposed")
	m.SessionDisposeFailed()
	m.GuardRejected("unit-of-work")
	m.Retried("save_changes", true)
	m.Retried("save_changes", false)
	m.ObserveOperation("get_all", nil, 3*time.Millisecond)
	m.ObserveOperation("save_changes", domainerrors.ErrBusy.WithDetails("unit-of-work"), time.Millisecond)
	m.ObserveOperation("save_changes", domainerrors.ErrUnavailable.Because(errors.New("conn closed")), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsReplaced.WithLabelValues("disposed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionDisposeFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardRejected.WithLabelValues("unit-of-work")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("save_changes", "recovered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("save_changes", "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationTotal.WithLabelValues("get_all", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationTotal.WithLabelValues("save_changes", "busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationTotal.WithLabelValues("save_changes", "unavailable")))
}

func TestOperationStatus(t *testing.T) {
	assert.Equal(t, "success", operationStatus(nil))
	assert.Equal(t, "busy", operationStatus(domainerrors.ErrBusy))
	assert.Equal(t, "conflict", operationStatus(errors.Wrap(domainerrors.ErrConcurrencyConflict, "flush")))
	assert.Equal(t, "error", operationStatus(errors.New("syntax error at or near")))
}

func TestNewPrometheus_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheus(reg, "shopdesk-test")

	assert.Panics(t, func() { NewPrometheus(reg, "shopdesk-test") })
}
