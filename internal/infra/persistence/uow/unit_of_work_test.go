package uow

import (
	"bytes"
	"context"
	"log/slog"
	"database/sql"
	"testing"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/postgres"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func productRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "price", "version"})
}

func TestUnitOfWork_RoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	u := New(factory, newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()

	assert.Zero(t, u.Generation())

	p := &product{ID: uuid.New(), Name: "espresso beans", Price: 1250}
	require.NoError(t, For[product](u).Add(ctx, p))
	assert.Equal(t, uint64(1), u.Generation())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	mock.ExpectQuery(`SELECT \* FROM "products" WHERE "id" = \$1`).
		WillReturnRows(productRows().AddRow(p.ID.String(), p.Name, p.Price, p.Version))

	got, found, err := For[product](u).GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, *p, *got)

	assert.Equal(t, 1, factory.Created())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_SaveChangesRecoversFromStaleSessionOnce(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	recorder := newCountingRecorder()
	opts := testOptions()
	opts.Recorder = recorder
	u := New(factory, newRegistry(), opts)
	defer u.Dispose()
	ctx := context.Background()

	p := &product{ID: uuid.New(), Name: "filter papers", Price: 300}
	require.NoError(t, For[product](u).Add(ctx, p))

	// Invalidate the session between two operations.
	require.NoError(t, u.peek().Dispose())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected, "pending insert survives the replacement")

	assert.Equal(t, uint64(2), u.Generation())
	assert.Equal(t, 2, factory.Created())
	assert.Equal(t, []string{"disposed"}, recorder.replaced)
	assert.Equal(t, 1, recorder.recovered["save_changes"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_SaveChangesSurfacesUnavailableOnSecondInvalidation(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	recorder := newCountingRecorder()
	opts := testOptions()
	opts.Recorder = recorder
	u := New(factory, newRegistry(), opts)
	defer u.Dispose()
	ctx := context.Background()

	require.NoError(t, For[product](u).Add(ctx, &product{ID: uuid.New(), Name: "kettle"}))

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "products"`).WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()
	}

	_, err := u.SaveChanges(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.Equal(t, 1, recorder.exhausted["save_changes"])
	assert.Equal(t, 2, factory.Created(), "exactly one replacement")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_SaveChangesPassesThroughDomainErrors(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	u := New(factory, newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()

	p := &product{ID: uuid.New(), Name: "grinder", Version: 4}
	require.NoError(t, For[product](u).Update(ctx, p))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "products" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := u.SaveChanges(ctx)
	assert.True(t, errors.Is(err, domainerrors.ErrConcurrencyConflict))
	assert.Equal(t, int64(4), p.Version)

	dup := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	require.NoError(t, For[product](u).Delete(ctx, p))
	require.NoError(t, For[customer](u).Add(ctx, &customer{ID: uuid.New(), Name: "Ada"}))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "customers"`).WillReturnError(dup)
	mock.ExpectRollback()

	_, err = u.SaveChanges(ctx)
	assert.True(t, errors.Is(err, dup))
	assert.True(t, postgres.IsUniqueViolation(err))

	// Neither failure replaced the session.
	assert.Equal(t, uint64(1), u.Generation())
	assert.Equal(t, 1, factory.Created())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_BusyWhenGuardHeld(t *testing.T) {
	db, _ := newMockDB(t)
	recorder := newCountingRecorder()
	opts := testOptions()
	opts.Recorder = recorder
	u := New(newStubFactory(db), newRegistry(), opts)
	defer u.Dispose()
	ctx := context.Background()

	release, err := u.guard.Acquire(ctx)
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = u.SaveChanges(ctx)
	elapsed := time.Since(start)

	assert.True(t, errors.Is(err, domainerrors.ErrBusy))
	assert.GreaterOrEqual(t, elapsed, opts.GuardTimeout-5*time.Millisecond)
	assert.Less(t, elapsed, opts.GuardTimeout+500*time.Millisecond)

	_, err = u.BeginTransaction(ctx)
	assert.True(t, errors.Is(err, domainerrors.ErrBusy))
	assert.Equal(t, []string{"unit-of-work", "unit-of-work"}, recorder.rejected)
}

func TestUnitOfWork_CancelledCallerReleasesGuard(t *testing.T) {
	db, _ := newMockDB(t)
	factory := newStubFactory(db)
	u := New(factory, newRegistry(), testOptions())
	defer u.Dispose()

	gate := make(chan struct{})
	factory.hold(gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := u.SaveChanges(ctx)
		done <- err
	}()

	<-factory.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	affected, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.Equal(t, uint64(1), u.Generation())
}

func TestUnitOfWork_ReplacementIsObservedWhole(t *testing.T) {
	db, _ := newMockDB(t)
	factory := newStubFactory(db)
	opts := testOptions()
	opts.GuardTimeout = 5 * time.Second
	u := New(factory, newRegistry(), opts)
	defer u.Dispose()
	ctx := context.Background()

	_, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	old := u.peek()

	gate := make(chan struct{})
	factory.hold(gate)
	require.NoError(t, old.Dispose())

	var g errgroup.Group
	g.Go(func() error {
		_, err := u.SaveChanges(ctx)

		return err
	})

	// The first call is now replacing the session; everyone still sees
	// generation 1 with its session.
	<-factory.entered
	assert.Same(t, old, u.peek())
	assert.Equal(t, uint64(1), u.Generation())

	second := make(chan *postgres.Session, 1)
	g.Go(func() error {
		_, err := u.SaveChanges(ctx)
		second <- u.peek()

		return err
	})

	close(gate)
	require.NoError(t, g.Wait())

	assert.Equal(t, uint64(2), u.Generation())
	assert.Equal(t, 2, factory.Created(), "the second call must not replace again")
	assert.Same(t, u.peek(), <-second)
}

func TestUnitOfWork_ConcurrentForReturnsOneRepository(t *testing.T) {
	db, _ := newMockDB(t)
	u := New(newStubFactory(db), newRegistry(), testOptions())
	defer u.Dispose()

	const callers = 32
	repos := make([]*Repository[product], callers)

	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			repos[i] = For[product](u)

			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, r := range repos {
		assert.Same(t, repos[0], r)
	}
	assert.NotSame(t, For[lineItem](u), For[lineItem](u), "unregistered types are not cached")
	assert.Equal(t, "line_items", For[lineItem](u).Table())
}

func TestUnitOfWork_ReplacementClearsRepositoryCache(t *testing.T) {
	db, mock := newMockDB(t)
	u := New(newStubFactory(db), newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()

	before := For[product](u)
	_, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Same(t, before, For[product](u), "creating generation 1 keeps the cache")

	require.NoError(t, u.peek().Dispose())
	_, err = u.SaveChanges(ctx)
	require.NoError(t, err)

	after := For[product](u)
	assert.NotSame(t, before, after)

	mock.ExpectQuery(`SELECT \* FROM "products"`).WillReturnRows(productRows())
	_, err = after.GetAll(ctx)
	require.NoError(t, err)

	id, ok := after.SessionID()
	require.True(t, ok)
	assert.Equal(t, u.peek().ID().String(), id)
}

func TestUnitOfWork_DetachIsNoOpAfterReplacement(t *testing.T) {
	db, mock := newMockDB(t)
	u := New(newStubFactory(db), newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()

	assert.False(t, u.Detach(&product{}))
	assert.Zero(t, u.DetachAll())

	p := &product{ID: uuid.New(), Name: "scale"}
	require.NoError(t, For[product](u).Add(ctx, p))
	require.NoError(t, u.peek().Dispose())

	assert.False(t, u.Detach(p))
	assert.Zero(t, u.DetachAll())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	_, err := u.SaveChanges(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, u.DetachAll())
	assert.Zero(t, u.DetachAll())
	assert.False(t, u.HasChanges())
}

func TestUnitOfWork_Transaction(t *testing.T) {
	db, mock := newMockDB(t)
	u := New(newStubFactory(db), newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := u.BeginTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, postgres.TxActive, tx.State())

	_, err = u.BeginTransaction(ctx)
	assert.True(t, errors.Is(err, domainerrors.ErrTransactionActive))

	require.NoError(t, For[product](u).Add(ctx, &product{ID: uuid.New(), Name: "tamper"}))
	mock.ExpectExec(`INSERT INTO "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = u.SaveChanges(ctx)
	require.NoError(t, err)

	mock.ExpectCommit()
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_Dispose(t *testing.T) {
	db, mock := newMockDB(t)
	u := New(newStubFactory(db), newRegistry(), testOptions())
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := u.BeginTransaction(ctx)
	require.NoError(t, err)

	mock.ExpectRollback()
	u.Dispose()
	u.Dispose()

	assert.Equal(t, postgres.TxRolledBack, tx.State())

	_, err = u.SaveChanges(ctx)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))

	_, err = For[product](u).GetAll(ctx)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))

	assert.Zero(t, u.DetachAll())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_FactoryFailureIsUnavailable(t *testing.T) {
	db, _ := newMockDB(t)
	factory := newStubFactory(db)
	factory.failWith(errors.New("connection refused"))
	u := New(factory, newRegistry(), testOptions())
	defer u.Dispose()

	_, err := u.SaveChanges(context.Background())
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
	assert.Zero(t, u.Generation())
}

func TestUnitOfWork_EntryDetachedMidFlushReplacesSessionOnce(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	recorder := newCountingRecorder()
	opts := testOptions()
	opts.Recorder = recorder
	u := New(factory, newRegistry(), opts)
	defer u.Dispose()
	ctx := context.Background()

	kept := &product{ID: uuid.New(), Name: "dripper"}
	dropped := &product{ID: uuid.New(), Name: "carafe"}
	products := For[product](u)
	require.NoError(t, products.Add(ctx, kept))
	require.NoError(t, products.Add(ctx, dropped))
	beforeFirstCreate(t, db, func() { u.Detach(dropped) })

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	assert.Equal(t, uint64(2), u.Generation())
	assert.Equal(t, 2, factory.Created())
	assert.Len(t, recorder.replaced, 1)
	assert.Equal(t, 1, recorder.recovered["save_changes"])
	assert.Equal(t, postgres.StateUnchanged, stateOf(u, kept))
	assert.Equal(t, postgres.StateDetached, stateOf(u, dropped), "a detached entity is not carried over")
	assert.Empty(t, u.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_SaveChangesInLostTransactionIsNotReplayed(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	recorder := newCountingRecorder()
	opts := testOptions()
	opts.Recorder = recorder
	u := New(factory, newRegistry(), opts)
	defer u.Dispose()
	ctx := context.Background()

	mock.ExpectBegin()
	tx, err := u.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, For[product](u).Add(ctx, &product{ID: uuid.New(), Name: "burr set"}))

	mock.ExpectExec(`INSERT INTO "products"`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err = u.SaveChanges(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.False(t, postgres.IsStale(err))

	assert.Equal(t, postgres.TxRolledBack, tx.State())
	assert.True(t, errors.Is(tx.Commit(), domainerrors.ErrTransactionClosed))
	assert.False(t, u.HasChanges(), "work of the rolled back transaction is not carried over")
	assert.Equal(t, uint64(2), u.Generation())
	assert.Equal(t, 2, factory.Created())
	assert.Equal(t, 1, recorder.exhausted["save_changes"])

	// The replacement is usable and starts empty.
	affected, err := u.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_WriteAfterLostTransactionIsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	u := New(newStubFactory(db), newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()
	products := For[product](u)

	mock.ExpectBegin()
	_, err := u.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, products.Add(ctx, &product{ID: uuid.New(), Name: "tamper"}))

	mock.ExpectRollback()
	require.NoError(t, u.peek().Dispose())

	err = products.Add(ctx, &product{ID: uuid.New(), Name: "mat"})
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
	assert.True(t, errors.Is(err, domainerrors.ErrSessionDisposed))
	assert.False(t, u.HasChanges())

	// The repository was rebound and accepts new work.
	late := &product{ID: uuid.New(), Name: "brush"}
	require.NoError(t, products.Add(ctx, late))
	assert.Equal(t, postgres.StateAdded, stateOf(u, late))
	id, ok := products.SessionID()
	require.True(t, ok)
	assert.Equal(t, u.peek().ID().String(), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_WaitForReplacementHonorsDeadline(t *testing.T) {
	db, _ := newMockDB(t)
	factory := newStubFactory(db)
	u := New(factory, newRegistry(), testOptions())
	defer u.Dispose()
	ctx := context.Background()
	products := For[product](u)

	require.NoError(t, products.Add(ctx, &product{ID: uuid.New(), Name: "scale"}))
	require.NoError(t, u.peek().Dispose())

	gate := make(chan struct{})
	factory.hold(gate)

	added := make(chan error, 1)
	go func() {
		added <- products.Add(ctx, &product{ID: uuid.New(), Name: "timer"})
	}()
	<-factory.entered

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := u.SaveChanges(waitCtx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)

	close(gate)
	require.NoError(t, <-added)
	assert.Equal(t, uint64(2), u.Generation())
	assert.Len(t, u.Pending(), 2)
}

func TestUnitOfWork_CancelledDuringFlushReleasesGuard(t *testing.T) {
	db, mock := newMockDB(t)
	factory := newStubFactory(db)
	u := New(factory, newRegistry(), testOptions())
	defer u.Dispose()

	require.NoError(t, For[product](u).Add(context.Background(), &product{ID: uuid.New(), Name: "press"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	beforeFirstCreate(t, db, func() { time.AfterFunc(20*time.Millisecond, cancel) })

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "products"`).
		WillDelayFor(time.Second).
		WillReturnResult(sqlmock.NewResult(0, 1))

	start := time.Now()
	_, err := u.SaveChanges(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, postgres.IsStale(err))
	assert.Equal(t, 1, factory.Created(), "cancellation does not replace the session")

	// The guard is free again: the next call is not rejected as busy.
	assert.Equal(t, 1, u.DetachAll())
	affected, err := u.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestUnitOfWork_DisposeWarnsAboutOperationInFlight(t *testing.T) {
	db, _ := newMockDB(t)
	var buf bytes.Buffer
	opts := testOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	idle := New(newStubFactory(db), newRegistry(), opts)
	idle.Dispose()
	assert.NotContains(t, buf.String(), "in flight")

	busy := New(newStubFactory(db), newRegistry(), opts)
	release, err := busy.guard.Acquire(context.Background())
	require.NoError(t, err)
	busy.Dispose()
	release()

	assert.Contains(t, buf.String(), "Disposing unit of work with an operation in flight")
}
