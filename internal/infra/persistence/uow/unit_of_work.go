// Package uow implements the unit of work: one owner for the current database
// session, the repositories bound to it and the recovery that replaces the
// session when it goes stale.
package uow

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/guard"
	"shopdesk/internal/infra/persistence/postgres"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const instrumentationName = "shopdesk/internal/infra/persistence/uow"

var tracer = otel.Tracer(instrumentationName)

// SessionFactory creates sessions. *postgres.SessionFactory is the
// production implementation.
type SessionFactory interface {
	Create(ctx context.Context) (*postgres.Session, error)
}

// UnitOfWork owns the current session of one logical unit of work. Save and
// transaction operations are serialized by a bounded-wait guard; session
// replacement is serialized separately and double-checked so exactly one
// generation is current at any time. Waiting for a replacement in progress
// honors the caller's context.
type UnitOfWork struct {
	factory  SessionFactory
	registry *Registry
	opts     Options
	guard    *guard.Guard

	mu         sync.RWMutex
	session    *postgres.Session
	generation uint64
	repos      map[reflect.Type]any
	disposed   bool

	replacing *semaphore.Weighted
}

// New creates a unit of work. No session is opened until an operation needs
// one.
func New(factory SessionFactory, registry *Registry, opts Options) *UnitOfWork {
	opts = opts.withDefaults()
	if registry == nil {
		registry = NewRegistry()
	}

	return &UnitOfWork{
		factory:  factory,
		registry: registry,
		opts:     opts,
		guard:    guard.New("unit-of-work", opts.GuardTimeout),
		repos:    make(map[reflect.Type]any),

		replacing: semaphore.NewWeighted(1),
	}
}

// Generation returns the sequence number of the current session, 0 before
// the first one is created.
func (u *UnitOfWork) Generation() uint64 {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return u.generation
}

// SaveChanges writes the pending changes of the current session. Inside a
// transaction the changes belong to it: if the session is lost they are
// dropped with the transaction and ErrUnavailable is returned.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int64, error) {
	var affected int64
	err := u.run(ctx, "save_changes", joinsTransaction, func(s *postgres.Session) error {
		n, err := s.SaveChanges(ctx)
		affected = n

		return err
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// BeginTransaction opens a transaction on the current session. Repository
// reads and SaveChanges join it until it is committed or rolled back.
func (u *UnitOfWork) BeginTransaction(ctx context.Context) (*postgres.Transaction, error) {
	var tx *postgres.Transaction
	err := u.run(ctx, "begin_transaction", always, func(s *postgres.Session) error {
		var err error
		tx, err = s.Begin(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// Detach stops tracking entity. It does nothing when no session exists or
// the session was already replaced.
func (u *UnitOfWork) Detach(entity any) bool {
	s := u.peek()
	if s == nil || s.Disposed() {
		return false
	}

	return s.Detach(entity)
}

// DetachAll stops tracking every entity of the current session and returns
// how many were dropped.
func (u *UnitOfWork) DetachAll() int {
	s := u.peek()
	if s == nil || s.Disposed() {
		return 0
	}

	return s.DetachAll()
}

// HasChanges reports whether SaveChanges has anything to write.
func (u *UnitOfWork) HasChanges() bool {
	s := u.peek()

	return s != nil && !s.Disposed() && s.HasChanges()
}

// Pending returns the entries SaveChanges would write, in tracking order.
func (u *UnitOfWork) Pending() []postgres.Entry {
	s := u.peek()
	if s == nil || s.Disposed() {
		return nil
	}

	return pendingEntries(s)
}

func pendingEntries(s *postgres.Session) []postgres.Entry {
	var out []postgres.Entry
	for _, e := range s.Entries() {
		if e.State != postgres.StateUnchanged {
			out = append(out, e)
		}
	}

	return out
}

// Dispose releases the session and the guard. Only the first call does
// anything.
func (u *UnitOfWork) Dispose() {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()

		return
	}
	u.disposed = true
	s := u.session
	u.session = nil
	clear(u.repos)
	u.mu.Unlock()

	if release, idle := u.guard.TryAcquire(); idle {
		release()
	} else {
		u.opts.Logger.Warn("Disposing unit of work with an operation in flight")
	}
	u.guard.Close()
	if s != nil {
		u.disposeSession(s)
	}
}

// replay decides whether an operation that hit a stale session may run again
// on the replacement.
type replay func(stale *postgres.Session) bool

func always(*postgres.Session) bool { return true }

// joinsTransaction refuses the retry when the stale session took an open
// transaction with it. Its pending changes were part of that transaction.
func joinsTransaction(stale *postgres.Session) bool { return !stale.TransactionLost() }

// run executes op under the guard with the retry-once policy.
func (u *UnitOfWork) run(ctx context.Context, op string, retry replay, fn func(*postgres.Session) error) (err error) {
	ctx, span := tracer.Start(ctx, "uow."+op)
	start := time.Now()
	defer func() {
		u.opts.Recorder.ObserveOperation(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	release, err := u.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domainerrors.ErrBusy) {
			u.opts.Recorder.GuardRejected(u.guard.Name())
			u.opts.Logger.DebugContext(ctx, "Unit of work is busy", slog.String("op", op))
		}

		return err
	}
	defer release()

	return u.withRetry(ctx, op, retry, fn)
}

func (u *UnitOfWork) withRetry(ctx context.Context, op string, retry replay, fn func(*postgres.Session) error) error {
	s, _, err := u.current(ctx)
	if err != nil {
		return err
	}

	err = fn(s)
	if !postgres.IsStale(err) {
		return err
	}

	u.opts.Logger.WarnContext(ctx, "Stale session, retrying once",
		slog.String("op", op),
		slog.String("session", s.ID().String()),
		slog.Any("error", err),
	)
	if perr := pause(ctx, u.opts.RetryBackoff); perr != nil {
		u.opts.Recorder.Retried(op, false)

		return perr
	}

	fresh, gen, rerr := u.replace(ctx, s, err)
	if rerr != nil {
		u.opts.Recorder.Retried(op, false)

		return rerr
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("uow.generation", int64(gen)))

	if !retry(s) {
		u.opts.Recorder.Retried(op, false)
		u.opts.Logger.WarnContext(ctx, "Transaction rolled back with its session, not retrying",
			slog.String("op", op),
			slog.String("session", s.ID().String()),
		)

		return errTransactionLost(err)
	}

	err = fn(fresh)
	if postgres.IsStale(err) {
		u.opts.Recorder.Retried(op, false)

		return domainerrors.ErrUnavailable.Because(err)
	}
	u.opts.Recorder.Retried(op, err == nil)

	return err
}

func (u *UnitOfWork) peek() *postgres.Session {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return u.session
}

// current returns the current session, creating generation 1 on first use.
func (u *UnitOfWork) current(ctx context.Context) (*postgres.Session, uint64, error) {
	u.mu.RLock()
	s, gen, disposed := u.session, u.generation, u.disposed
	u.mu.RUnlock()

	if disposed {
		return nil, 0, domainerrors.ErrUnavailable.WithDetails("unit of work is disposed")
	}
	if s != nil {
		return s, gen, nil
	}

	return u.replace(ctx, nil, nil)
}

// replace swaps stale for a fresh session and starts a new generation. If
// another caller already replaced stale, the current session is returned
// as is. Pending changes of stale move to the new session unless they
// belonged to a transaction that was rolled back with it.
func (u *UnitOfWork) replace(ctx context.Context, stale *postgres.Session, cause error) (*postgres.Session, uint64, error) {
	if err := u.replacing.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer u.replacing.Release(1)

	u.mu.RLock()
	cur, gen, disposed := u.session, u.generation, u.disposed
	u.mu.RUnlock()

	if disposed {
		return nil, 0, domainerrors.ErrUnavailable.WithDetails("unit of work is disposed")
	}
	if cur != stale {
		return cur, gen, nil
	}

	if stale != nil {
		u.disposeSession(stale)
	}

	fresh, err := u.factory.Create(ctx)
	if err != nil {
		u.opts.Logger.ErrorContext(ctx, "Failed to create session", slog.Any("error", err))

		return nil, 0, err
	}
	carried, dropped := 0, 0
	if stale != nil && stale.TransactionLost() {
		dropped = len(pendingEntries(stale))
	} else {
		carried = fresh.AdoptPending(stale)
	}

	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		u.disposeSession(fresh)

		return nil, 0, domainerrors.ErrUnavailable.WithDetails("unit of work is disposed")
	}
	u.session = fresh
	u.generation++
	gen = u.generation
	if stale != nil {
		clear(u.repos)
	}
	u.mu.Unlock()

	u.opts.Recorder.SessionCreated()
	if stale == nil {
		u.opts.Logger.DebugContext(ctx, "Session opened",
			slog.String("session", fresh.ID().String()),
			slog.Uint64("generation", gen),
		)

		return fresh, gen, nil
	}

	reason := staleReason(cause)
	u.opts.Recorder.SessionReplaced(reason)
	u.opts.Logger.InfoContext(ctx, "Session replaced",
		slog.String("stale", stale.ID().String()),
		slog.String("session", fresh.ID().String()),
		slog.Uint64("generation", gen),
		slog.String("reason", reason),
		slog.Duration("stale_age", time.Since(stale.CreatedAt())),
		slog.Int("carried", carried),
		slog.Int("dropped", dropped),
	)

	return fresh, gen, nil
}

// disposeSession is best effort: failures are logged and counted, never
// returned.
func (u *UnitOfWork) disposeSession(s *postgres.Session) {
	if err := s.Dispose(); err != nil {
		u.opts.Recorder.SessionDisposeFailed()
		u.opts.Logger.Warn("Failed to dispose session",
			slog.String("session", s.ID().String()),
			slog.Any("error", err),
		)
	}
}

// renew is the mutation path of a repository whose bound session went stale.
// A non-nil session is returned with ErrUnavailable when stale took an open
// transaction with it: the repository must rebind but not track the entity.
func (u *UnitOfWork) renew(ctx context.Context, stale *postgres.Session, cause error) (*postgres.Session, error) {
	s, _, err := u.replace(ctx, stale, cause)
	if err != nil {
		return nil, err
	}
	if stale.TransactionLost() {
		return s, errTransactionLost(cause)
	}

	return s, nil
}

func errTransactionLost(cause error) error {
	return domainerrors.ErrUnavailable.
		WithDetails("transaction was rolled back with its session").
		Because(cause)
}

func (u *UnitOfWork) bind(ctx context.Context) (*postgres.Session, error) {
	s, _, err := u.current(ctx)

	return s, err
}

// ephemeral opens a short-lived session for a single repository read.
func (u *UnitOfWork) ephemeral(ctx context.Context) (*postgres.Session, error) {
	return u.factory.Create(ctx)
}

// For returns the repository for T. Registered types are cached per
// session generation and created at most once; unregistered types get a
// new repository on every call.
func For[T any](u *UnitOfWork) *Repository[T] {
	key := typeOf[T]()

	desc, registered := u.registry.Lookup(key)
	if !registered {
		return newRepository[T](conventionDescriptor[T](), u, u.peek(), u.opts)
	}

	u.mu.RLock()
	if cached, ok := u.repos[key]; ok {
		u.mu.RUnlock()

		return cached.(*Repository[T])
	}
	u.mu.RUnlock()

	u.mu.Lock()
	defer u.mu.Unlock()

	if cached, ok := u.repos[key]; ok {
		return cached.(*Repository[T])
	}

	repo := newRepository[T](desc, u, u.session, u.opts)
	if !u.disposed {
		u.repos[key] = repo
	}

	return repo
}
