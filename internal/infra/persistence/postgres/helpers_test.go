package postgres

import (
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (widget) TableName() string { return "widgets" }

func (w *widget) RowVersion() int64            { return w.Version }
func (w *widget) SetRowVersion(version int64) { w.Version = version }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMockDB opens a gorm DB over sqlmock. sqlmock does not export its option
// type, so callers that need options pass a func that calls sqlmock.New.
func newMockDB(t *testing.T, open ...func() (*sql.DB, sqlmock.Sqlmock, error)) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	newSQL := func() (*sql.DB, sqlmock.Sqlmock, error) { return sqlmock.New() }
	if len(open) > 0 {
		newSQL = open[0]
	}
	sqlDB, mock, err := newSQL()
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

	return db, mock
}

// beforeFirstCreate runs fn once, right before gorm issues the first INSERT.
func beforeFirstCreate(t *testing.T, db *gorm.DB, fn func()) {
	t.Helper()

	var once sync.Once
	err := db.Callback().Create().Before("gorm:create").Register("test:before_first_create", func(*gorm.DB) {
		once.Do(fn)
	})
	require.NoError(t, err)
}
