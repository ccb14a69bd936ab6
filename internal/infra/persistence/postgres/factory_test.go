package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"shopdesk/config"
	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T, failures uint32) (*SessionFactory, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newMockDB(t, func() (*sql.DB, sqlmock.Sqlmock, error) {
		return sqlmock.New(sqlmock.MonitorPingsOption(true))
	})
	cfg := &config.Config{
		Session: &config.SessionConfig{
			Breaker: config.BreakerConfig{
				MaxRequests:         1,
				Timeout:             time.Minute,
				ConsecutiveFailures: failures,
			},
		},
	}

	return NewSessionFactory(FactoryParams{DB: db, Config: cfg, Logger: discardLogger()}), mock
}

func TestSessionFactory_Create(t *testing.T) {
	factory, mock := newTestFactory(t, 3)

	mock.ExpectPing()
	first, err := factory.Create(context.Background())
	require.NoError(t, err)

	mock.ExpectPing()
	second, err := factory.Create(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, int64(2), factory.Created())
	assert.Equal(t, "closed", factory.BreakerState())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionFactory_CreateReportsUnavailable(t *testing.T) {
	factory, mock := newTestFactory(t, 3)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	session, err := factory.Create(context.Background())
	require.Error(t, err)
	assert.Nil(t, session)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
	assert.Zero(t, factory.Created())
}

func TestSessionFactory_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	factory, mock := newTestFactory(t, 2)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	for range 2 {
		_, err := factory.Create(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", factory.BreakerState())

	// The open breaker answers without touching the database.
	_, err := factory.Create(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.NoError(t, mock.ExpectationsWereMet())
}
