package uow

import (
	"context"
	"log/slog"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/guard"
)

// DefaultRetryBackoff is the pause before the single retry after a stale
// session signal.
const DefaultRetryBackoff = 25 * time.Millisecond

// Recorder receives data-access events. internal/infra/metrics provides the
// Prometheus implementation.
type Recorder interface {
	SessionCreated()
	SessionReplaced(reason string)
	SessionDisposeFailed()
	GuardRejected(guard string)
	Retried(op string, recovered bool)
	ObserveOperation(op string, err error, d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) SessionCreated()                               {}
func (noopRecorder) SessionReplaced(string)                        {}
func (noopRecorder) SessionDisposeFailed()                         {}
func (noopRecorder) GuardRejected(string)                          {}
func (noopRecorder) Retried(string, bool)                          {}
func (noopRecorder) ObserveOperation(string, error, time.Duration) {}

// Options tunes a UnitOfWork and the repositories it hands out.
type Options struct {
	GuardTimeout time.Duration
	RetryBackoff time.Duration
	Logger       *slog.Logger
	Recorder     Recorder
}

func (o Options) withDefaults() Options {
	if o.GuardTimeout <= 0 {
		o.GuardTimeout = guard.DefaultTimeout
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Recorder == nil {
		o.Recorder = noopRecorder{}
	}

	return o
}

// pause waits d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// staleReason labels a replacement for logs and metrics.
func staleReason(err error) string {
	switch {
	case err == nil:
		return "initial"
	case errors.Is(err, domainerrors.ErrSessionDisposed):
		return "disposed"
	case errors.Is(err, domainerrors.ErrConcurrentOperation):
		return "concurrent_operation"
	default:
		return "connection_lost"
	}
}
