package uow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"
	"shopdesk/internal/infra/persistence/guard"
	"shopdesk/internal/infra/persistence/postgres"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// binder is how a repository finds, replaces and borrows sessions.
// *UnitOfWork implements it; standalone repositories have none.
type binder interface {
	bind(ctx context.Context) (*postgres.Session, error)
	renew(ctx context.Context, stale *postgres.Session, cause error) (*postgres.Session, error)
	ephemeral(ctx context.Context) (*postgres.Session, error)
}

// Repository is the typed CRUD and query surface for one entity collection.
// Its operations are serialized by a private guard. Reads that hit a stale
// session are retried once on a short-lived session; mutations rebind the
// repository to the replacement session and are retried there.
type Repository[T any] struct {
	desc   Descriptor
	binder binder
	guard  *guard.Guard
	opts   Options

	mu      sync.RWMutex
	session *postgres.Session
}

// NewRepository creates a repository bound to session with no way to recover
// it: once session is stale every operation fails with ErrUnavailable.
func NewRepository[T any](session *postgres.Session, desc Descriptor, opts Options) *Repository[T] {
	conv := conventionDescriptor[T]()
	if desc.Table == "" {
		desc.Table = conv.Table
	}
	if desc.KeyColumn == "" {
		desc.KeyColumn = conv.KeyColumn
	}

	return newRepository[T](desc, nil, session, opts)
}

func newRepository[T any](desc Descriptor, b binder, session *postgres.Session, opts Options) *Repository[T] {
	opts = opts.withDefaults()

	return &Repository[T]{
		desc:    desc,
		binder:  b,
		guard:   guard.New("repository:"+desc.Table, opts.GuardTimeout),
		opts:    opts,
		session: session,
	}
}

// Table returns the table the repository reads and writes.
func (r *Repository[T]) Table() string {
	return r.desc.Table
}

// SessionID identifies the bound session, if any.
func (r *Repository[T]) SessionID() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.session == nil {
		return "", false
	}

	return r.session.ID().String(), true
}

// GetByID loads the entity whose key equals id. A missing row is reported
// as (nil, false, nil).
func (r *Repository[T]) GetByID(ctx context.Context, id any) (*T, bool, error) {
	var found *T
	err := r.read(ctx, "get_by_id", func(db *gorm.DB) error {
		found = nil

		var entity T
		res := db.Where(clause.Eq{Column: clause.Column{Name: r.desc.KeyColumn}, Value: id}).Limit(1).Find(&entity)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			found = &entity
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if found == nil {
		return nil, false, nil
	}
	r.attach(found)

	return found, true, nil
}

// GetAll loads every entity of the collection.
func (r *Repository[T]) GetAll(ctx context.Context) ([]*T, error) {
	return r.find(ctx, "get_all", nil)
}

// Add schedules entity for insertion on the next SaveChanges.
func (r *Repository[T]) Add(ctx context.Context, entity *T) error {
	return r.mutate(ctx, "add", entity, postgres.StateAdded)
}

// Update schedules entity for an update on the next SaveChanges.
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	return r.mutate(ctx, "update", entity, postgres.StateModified)
}

// Delete schedules entity for deletion on the next SaveChanges.
func (r *Repository[T]) Delete(ctx context.Context, entity *T) error {
	return r.mutate(ctx, "delete", entity, postgres.StateDeleted)
}

// Query starts an ad-hoc query over the collection.
func (r *Repository[T]) Query() *Query[T] {
	return &Query[T]{repo: r}
}

func (r *Repository[T]) find(ctx context.Context, op string, scopes []func(*gorm.DB) *gorm.DB) ([]*T, error) {
	var rows []*T
	err := r.read(ctx, op, func(db *gorm.DB) error {
		rows = nil

		return db.Scopes(scopes...).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	r.attach(rows...)

	return rows, nil
}

// read runs fn through the read path. fn may run twice and must reset its
// outputs on entry.
func (r *Repository[T]) read(ctx context.Context, op string, fn func(*gorm.DB) error) (err error) {
	ctx, release, err := r.begin(ctx, op)
	if err != nil {
		return err
	}
	defer func() { release(err) }()

	scoped := func(db *gorm.DB) error {
		return fn(db.Table(r.desc.Table))
	}

	s, err := r.bound(ctx)
	if err != nil {
		return err
	}

	err = s.ExecRead(ctx, scoped)
	if !postgres.IsStale(err) {
		return err
	}
	if r.binder == nil {
		return domainerrors.ErrUnavailable.Because(err)
	}

	r.opts.Logger.WarnContext(ctx, "Stale session on read, retrying on a short-lived session",
		slog.String("table", r.desc.Table),
		slog.String("op", op),
		slog.Any("error", err),
	)
	if perr := pause(ctx, r.opts.RetryBackoff); perr != nil {
		r.opts.Recorder.Retried(op, false)

		return perr
	}

	eph, err := r.binder.ephemeral(ctx)
	if err != nil {
		r.opts.Recorder.Retried(op, false)

		return err
	}
	defer func() {
		if derr := eph.Dispose(); derr != nil {
			r.opts.Recorder.SessionDisposeFailed()
			r.opts.Logger.Warn("Failed to dispose short-lived session", slog.Any("error", derr))
		}
	}()

	err = eph.ExecRead(ctx, scoped)
	if postgres.IsStale(err) {
		r.opts.Recorder.Retried(op, false)

		return domainerrors.ErrUnavailable.Because(err)
	}
	r.opts.Recorder.Retried(op, err == nil)

	return err
}

func (r *Repository[T]) mutate(ctx context.Context, op string, entity *T, state postgres.EntityState) (err error) {
	if entity == nil {
		return domainerrors.ErrInvalidInput.WithDetails(op + " of a nil " + r.desc.Table + " entity")
	}

	ctx, release, err := r.begin(ctx, op)
	if err != nil {
		return err
	}
	defer func() { release(err) }()

	s, err := r.bound(ctx)
	if err != nil {
		return err
	}

	err = s.Track(entity, r.desc.Table, state)
	if !postgres.IsStale(err) {
		return err
	}
	if r.binder == nil {
		return domainerrors.ErrUnavailable.Because(err)
	}

	r.opts.Logger.WarnContext(ctx, "Stale session on write, rebinding",
		slog.String("table", r.desc.Table),
		slog.String("op", op),
		slog.Any("error", err),
	)
	if perr := pause(ctx, r.opts.RetryBackoff); perr != nil {
		r.opts.Recorder.Retried(op, false)

		return perr
	}

	fresh, err := r.binder.renew(ctx, s, err)
	if fresh != nil {
		r.rebind(fresh)
	}
	if err != nil {
		r.opts.Recorder.Retried(op, false)

		return err
	}

	err = fresh.Track(entity, r.desc.Table, state)
	if postgres.IsStale(err) {
		r.opts.Recorder.Retried(op, false)

		return domainerrors.ErrUnavailable.Because(err)
	}
	r.opts.Recorder.Retried(op, err == nil)

	return err
}

// begin opens the span and takes the repository guard. The returned func
// must be called exactly once with the operation's result.
func (r *Repository[T]) begin(ctx context.Context, op string) (context.Context, func(error), error) {
	ctx, span := tracer.Start(ctx, "repository."+op,
		trace.WithAttributes(attribute.String("db.table", r.desc.Table)),
	)
	start := time.Now()

	finish := func(err error) {
		r.opts.Recorder.ObserveOperation(op, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}

	release, err := r.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domainerrors.ErrBusy) {
			r.opts.Recorder.GuardRejected(r.guard.Name())
		}
		finish(err)

		return ctx, nil, err
	}

	return ctx, func(err error) {
		release()
		finish(err)
	}, nil
}

// bound returns the bound session, binding to the unit of work's current
// one on first use. A stale bound session is kept until a write rebinds it.
func (r *Repository[T]) bound(ctx context.Context) (*postgres.Session, error) {
	r.mu.RLock()
	s := r.session
	r.mu.RUnlock()

	if s != nil {
		return s, nil
	}
	if r.binder == nil {
		return nil, domainerrors.ErrUnavailable.WithDetails("repository " + r.desc.Table + " has no session")
	}

	cur, err := r.binder.bind(ctx)
	if err != nil {
		return nil, err
	}
	r.rebind(cur)

	return cur, nil
}

func (r *Repository[T]) rebind(s *postgres.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session = s
}

// attach tracks loaded entities as unchanged in the bound session so a
// later Update only needs the pointer. Rows loaded through a short-lived
// session are attached the same way.
func (r *Repository[T]) attach(entities ...*T) {
	r.mu.RLock()
	s := r.session
	r.mu.RUnlock()

	if s == nil || s.Disposed() {
		return
	}
	for _, e := range entities {
		if err := s.Track(e, r.desc.Table, postgres.StateUnchanged); err != nil {
			return
		}
	}
}
