package impl

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"shopdesk/internal/infra/persistence/model"
	"shopdesk/internal/infra/persistence/postgres"
	"shopdesk/internal/infra/persistence/uow"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mockMetrics is a testify mock of usecase.UseCaseMetrics.
type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) RecordUseCaseExecution(useCase string, success bool, d time.Duration) {
	m.Called(useCase, success, d)
}

type serviceFixtures struct {
	params  ServiceParams
	mock    sqlmock.Sqlmock
	metrics *mockMetrics
}

func createTestFixtures(t *testing.T) serviceFixtures {
	t.Helper()

	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := postgres.NewSessionFactory(postgres.FactoryParams{DB: db, Logger: log})
	units := uow.NewProviderWith(factory, model.NewRegistry(), uow.Options{
		RetryBackoff: time.Millisecond,
		Logger:       log,
	})

	metrics := &mockMetrics{}
	t.Cleanup(func() { metrics.AssertExpectations(t) })

	return serviceFixtures{
		params:  ServiceParams{Units: units, Logger: log, Metrics: metrics},
		mock:    sqlMock,
		metrics: metrics,
	}
}

func (f serviceFixtures) expectUseCase(name string, success bool) {
	f.metrics.On("RecordUseCaseExecution", name, success, mock.AnythingOfType("time.Duration")).Once()
}

func productColumns() []string {
	return []string{"id", "sku", "name", "price_cents", "version", "created_at", "updated_at"}
}
