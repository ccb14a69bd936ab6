package uow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/infra/persistence/postgres"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type product struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name    string
	Price   int64
	Version int64
}

func (product) TableName() string { return "products" }

func (p *product) RowVersion() int64            { return p.Version }
func (p *product) SetRowVersion(version int64) { p.Version = version }

type customer struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string
}

// lineItem is never registered.
type lineItem struct {
	ID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Qty int
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
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

func newRegistry() *Registry {
	r := NewRegistry()
	Register[product](r, Descriptor{})
	Register[customer](r, Descriptor{})

	return r
}

// stubFactory creates sessions over a sqlmock database. A gate set with hold
// makes Create wait until the gate is closed.
type stubFactory struct {
	db      *gorm.DB
	entered chan struct{}

	mu      sync.Mutex
	gate    chan struct{}
	fail    error
	created int
}

func newStubFactory(db *gorm.DB) *stubFactory {
	return &stubFactory{db: db, entered: make(chan struct{}, 1)}
}

func (f *stubFactory) Create(ctx context.Context) (*postgres.Session, error) {
	f.mu.Lock()
	gate, fail := f.gate, f.fail
	f.mu.Unlock()

	if gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, domainerrors.ErrUnavailable.Because(fail)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++

	return postgres.NewSession(f.db, discardLogger()), nil
}

func (f *stubFactory) hold(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *stubFactory) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *stubFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.created
}

// countingRecorder keeps every event it receives.
type countingRecorder struct {
	mu        sync.Mutex
	created   int
	replaced  []string
	rejected  []string
	recovered map[string]int
	exhausted map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{recovered: map[string]int{}, exhausted: map[string]int{}}
}

func (r *countingRecorder) SessionCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *countingRecorder) SessionReplaced(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced = append(r.replaced, reason)
}

func (r *countingRecorder) SessionDisposeFailed() {}

func (r *countingRecorder) GuardRejected(guard string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, guard)
}

func (r *countingRecorder) Retried(op string, recovered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if recovered {
		r.recovered[op]++
	} else {
		r.exhausted[op]++
	}
}

func (r *countingRecorder) ObserveOperation(string, error, time.Duration) {}

func testOptions() Options {
	return Options{
		GuardTimeout: 50 * time.Millisecond,
		RetryBackoff: time.Millisecond,
		Logger:       discardLogger(),
	}
}

// stateOf reads the tracking state of entity from the current session.
func stateOf(u *UnitOfWork, entity any) postgres.EntityState {
	s := u.peek()
	if s == nil {
		return postgres.StateDetached
	}
	for _, e := range s.Entries() {
		if e.Entity == entity {
			return e.State
		}
	}

	return postgres.StateDetached
}

// beforeFirstCreate runs fn once, right before gorm issues the first INSERT.
func beforeFirstCreate(t *testing.T, db *gorm.DB, fn func()) {
	t.Helper()

	var once sync.Once
	err := db.Callback().Create().Before("gorm:create").
		Register("test:before_first_create", func(*gorm.DB) { once.Do(fn) })
	require.NoError(t, err)
}
