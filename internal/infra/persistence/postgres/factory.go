package postgres

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"shopdesk/config"
	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	defaultBreakerTimeout  = 10 * time.Second
	defaultBreakerFailures = 5
)

// FactoryParams defines the dependencies of the session factory
type FactoryParams struct {
	fx.In

	DB     *gorm.DB
	Config *config.Config
	Logger *slog.Logger
}

// SessionFactory creates ready-to-use sessions from the shared pool. Creation
// pings the pool through a circuit breaker so a dead database fails fast
// instead of stalling every caller.
type SessionFactory struct {
	db      *gorm.DB
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	created atomic.Int64
}

// NewSessionFactory is the constructor for SessionFactory.
func NewSessionFactory(params FactoryParams) *SessionFactory {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var breakerCfg config.BreakerConfig
	if params.Config != nil && params.Config.Session != nil {
		breakerCfg = params.Config.Session.Breaker
	}
	if breakerCfg.Timeout <= 0 {
		breakerCfg.Timeout = defaultBreakerTimeout
	}
	if breakerCfg.ConsecutiveFailures == 0 {
		breakerCfg.ConsecutiveFailures = defaultBreakerFailures
	}

	threshold := breakerCfg.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-factory",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a database failure.
			return err == nil || errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Session factory breaker changed state",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &SessionFactory{
		db:      params.DB,
		logger:  logger,
		breaker: breaker,
	}
}

// Create opens a fresh session. Any failure, including an open breaker, is
// reported as ErrUnavailable.
func (f *SessionFactory) Create(ctx context.Context) (*Session, error) {
	out, err := f.breaker.Execute(func() (any, error) {
		sqlDB, err := f.db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get sql.DB")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to ping database")
		}

		return NewSession(f.db, f.logger), nil
	})
	if err != nil {
		return nil, domainerrors.ErrUnavailable.Because(err)
	}

	session, _ := out.(*Session)
	f.created.Add(1)
	f.logger.DebugContext(ctx, "Session created", slog.String("session", session.ID().String()))

	return session, nil
}

// Created returns how many sessions the factory has handed out.
func (f *SessionFactory) Created() int64 {
	return f.created.Load()
}

// BreakerState reports the breaker state: closed, half-open or open.
func (f *SessionFactory) BreakerState() string {
	return f.breaker.State().String()
}
