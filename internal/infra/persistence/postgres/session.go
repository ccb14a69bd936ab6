package postgres

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

// EntityState is the change-tracking state of an entity inside a Session.
type EntityState int

const (
	StateDetached EntityState = iota
	StateUnchanged
	StateAdded
	StateModified
	StateDeleted
)

func (s EntityState) String() string {
	switch s {
	case StateUnchanged:
		return "unchanged"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return "detached"
	}
}

// Versioned entities get an optimistic concurrency check on update and
// delete: the row must still carry the version the entity was loaded with.
type Versioned interface {
	RowVersion() int64
	SetRowVersion(version int64)
}

// VersionColumn is the column compared for Versioned entities.
const VersionColumn = "version"

// Entry is a snapshot of one tracked entity.
type Entry struct {
	Entity any
	Table  string
	State  EntityState
}

type trackedEntry struct {
	entity any
	table  string
	state  EntityState
}

type sessionIDKey struct{}

// SessionIDFromContext returns the id of the session executing the current statement.
func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(uuid.UUID)

	return id, ok
}

func withSessionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// Session is a stateful handle to the database: a gorm session, a change
// tracker and at most one active transaction. Only one operation may run on
// a Session at a time; a second one fails with ErrConcurrentOperation.
// Once disposed a Session never executes anything again.
type Session struct {
	id        uuid.UUID
	db        *gorm.DB
	logger    *slog.Logger
	createdAt time.Time

	inFlight atomic.Bool
	disposed atomic.Bool
	txLost   atomic.Bool

	mu      sync.Mutex
	entries map[any]*trackedEntry
	order   []*trackedEntry
	tx      *Transaction
}

// NewSession opens a session over db. Most callers get sessions from a
// SessionFactory instead.
func NewSession(db *gorm.DB, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:        uuid.New(),
		db:        db.Session(&gorm.Session{NewDB: true}),
		logger:    logger,
		createdAt: time.Now(),
		entries:   make(map[any]*trackedEntry),
	}
}

// ID uniquely identifies the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// CreatedAt reports when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Disposed reports whether Dispose has been called.
func (s *Session) Disposed() bool {
	return s.disposed.Load()
}

// Exec runs fn as the session's single in-flight operation. fn receives a
// handle bound to ctx and to the active transaction, if any.
func (s *Session) Exec(ctx context.Context, fn func(db *gorm.DB) error) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	return classify(fn(s.handle(ctx)))
}

// ExecRead is Exec with the statement routed to a read replica when a
// resolver is configured.
func (s *Session) ExecRead(ctx context.Context, fn func(db *gorm.DB) error) error {
	return s.Exec(ctx, func(db *gorm.DB) error {
		if s.activeTx() != nil {
			return fn(db)
		}

		return fn(db.Clauses(dbresolver.Read))
	})
}

func (s *Session) enter() error {
	if s.disposed.Load() {
		return domainerrors.ErrSessionDisposed.WithDetails(s.id.String())
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return domainerrors.ErrConcurrentOperation.WithDetails(s.id.String())
	}
	if s.disposed.Load() {
		s.inFlight.Store(false)

		return domainerrors.ErrSessionDisposed.WithDetails(s.id.String())
	}

	return nil
}

func (s *Session) leave() {
	s.inFlight.Store(false)
}

func (s *Session) handle(ctx context.Context) *gorm.DB {
	ctx = withSessionID(ctx, s.id)
	if tx := s.activeTx(); tx != nil {
		return tx.db.WithContext(ctx)
	}

	return s.db.WithContext(ctx)
}

func (s *Session) activeTx() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil && s.tx.State() == TxActive {
		return s.tx
	}

	return nil
}

// Track records a pending change for entity, which must be a pointer.
// Adding an entity marked deleted revives it as modified; deleting an entity
// that was only added forgets it.
func (s *Session) Track(entity any, table string, state EntityState) error {
	if entity == nil || reflect.ValueOf(entity).Kind() != reflect.Pointer {
		return errors.Errorf("tracked entity must be a non-nil pointer, got %T", entity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed.Load() {
		return domainerrors.ErrSessionDisposed.WithDetails(s.id.String())
	}

	entry, tracked := s.entries[entity]
	if !tracked {
		if state == StateDetached {
			return nil
		}
		entry = &trackedEntry{entity: entity, table: table, state: state}
		s.entries[entity] = entry
		s.order = append(s.order, entry)

		return nil
	}

	switch state {
	case StateAdded:
		if entry.state == StateDeleted {
			entry.state = StateModified
		}
	case StateModified:
		switch entry.state {
		case StateDeleted:
			return errors.Errorf("%T is marked for deletion", entity)
		case StateUnchanged:
			entry.state = StateModified
		}
	case StateDeleted:
		if entry.state == StateAdded {
			s.forget(entry)
		} else {
			entry.state = StateDeleted
		}
	case StateUnchanged:
		entry.state = StateUnchanged
	case StateDetached:
		s.forget(entry)
	}

	return nil
}

// stateOf returns the tracked state of entity, or StateDetached.
func (s *Session) stateOf(entity any) EntityState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[entity]; ok {
		return entry.state
	}

	return StateDetached
}

// Detach stops tracking entity. It reports whether the entity was tracked.
func (s *Session) Detach(entity any) bool {
	if entity == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entity]
	if !ok {
		return false
	}
	s.forget(entry)

	return true
}

// DetachAll stops tracking every entity and returns how many were dropped.
func (s *Session) DetachAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	for _, entry := range s.order {
		entry.state = StateDetached
	}
	s.entries = make(map[any]*trackedEntry)
	s.order = nil

	return n
}

// forget must be called with s.mu held.
func (s *Session) forget(entry *trackedEntry) {
	entry.state = StateDetached
	delete(s.entries, entry.entity)
	for i, e := range s.order {
		if e == entry {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}
}

// Entries enumerates tracked entities in the order they were first tracked.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.order))
	for _, e := range s.order {
		out = append(out, Entry{Entity: e.entity, Table: e.table, State: e.state})
	}

	return out
}

// HasChanges reports whether SaveChanges has anything to write.
func (s *Session) HasChanges() bool {
	return len(s.pending()) > 0
}

func (s *Session) pending() []*trackedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*trackedEntry, 0, len(s.order))
	for _, e := range s.order {
		switch e.state {
		case StateAdded, StateModified, StateDeleted:
			out = append(out, e)
		}
	}

	return out
}

// AdoptPending copies the unsaved changes of from into s and returns how
// many were taken over. from may already be disposed.
func (s *Session) AdoptPending(from *Session) int {
	if from == nil || from == s {
		return 0
	}

	var carried []trackedEntry
	for _, e := range from.pending() {
		from.mu.Lock()
		if e.state != StateDetached {
			carried = append(carried, *e)
		}
		from.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	adopted := 0
	for _, c := range carried {
		if existing, ok := s.entries[c.entity]; ok {
			existing.state = c.state

			continue
		}
		entry := &trackedEntry{entity: c.entity, table: c.table, state: c.state}
		s.entries[c.entity] = entry
		s.order = append(s.order, entry)
		adopted++
	}

	return adopted
}

// SaveChanges writes every pending change and returns the number of rows
// affected. Without an active transaction the writes run in their own
// transaction; with one they join it and become durable on its Commit.
func (s *Session) SaveChanges(ctx context.Context) (int64, error) {
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	pending := s.pending()
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		affected int64
		undo     []func()
	)
	flush := func(db *gorm.DB) error {
		affected = 0
		for _, entry := range pending {
			n, revert, err := s.apply(db, entry)
			if revert != nil {
				undo = append(undo, revert)
			}
			if err != nil {
				return err
			}
			affected += n
		}

		return nil
	}

	ctx = withSessionID(ctx, s.id)

	var err error
	if tx := s.activeTx(); tx != nil {
		err = flush(tx.db.WithContext(ctx))
	} else {
		err = s.db.WithContext(ctx).Clauses(dbresolver.Write).Transaction(flush)
	}
	if err != nil {
		for _, revert := range undo {
			revert()
		}

		return 0, classify(err)
	}

	s.accept(pending)

	return affected, nil
}

// apply writes one entry. The returned func, when non-nil, reverts the
// in-memory side effects of the write if the surrounding transaction fails.
func (s *Session) apply(db *gorm.DB, entry *trackedEntry) (int64, func(), error) {
	s.mu.Lock()
	state, entity, table := entry.state, entry.entity, entry.table
	s.mu.Unlock()

	if state == StateDetached {
		return 0, nil, domainerrors.ErrStaleSession.WithDetails("tracked entity was detached while saving")
	}

	q := db
	if table != "" {
		q = q.Table(table)
	}

	switch state {
	case StateAdded:
		res := q.Create(entity)

		return res.RowsAffected, nil, res.Error
	case StateModified:
		return updateEntity(q, entity)
	case StateDeleted:
		n, err := deleteEntity(q, entity)

		return n, nil, err
	default:
		return 0, nil, nil
	}
}

func updateEntity(db *gorm.DB, entity any) (int64, func(), error) {
	q := db.Model(entity).Select("*").Omit("created_at")

	var revert func()
	if versioned, ok := entity.(Versioned); ok {
		prev := versioned.RowVersion()
		versioned.SetRowVersion(prev + 1)
		revert = func() { versioned.SetRowVersion(prev) }
		q = q.Where(VersionColumn+" = ?", prev)
	}

	res := q.Updates(entity)
	if res.Error != nil {
		return 0, revert, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, revert, domainerrors.ErrConcurrencyConflict.WithDetails(reflect.TypeOf(entity).String() + " update matched no row")
	}

	return res.RowsAffected, revert, nil
}

func deleteEntity(db *gorm.DB, entity any) (int64, error) {
	q := db
	if versioned, ok := entity.(Versioned); ok {
		q = q.Where(VersionColumn+" = ?", versioned.RowVersion())
	}

	res := q.Delete(entity)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, domainerrors.ErrConcurrencyConflict.WithDetails(reflect.TypeOf(entity).String() + " delete matched no row")
	}

	return res.RowsAffected, nil
}

func (s *Session) accept(saved []*trackedEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range saved {
		switch entry.state {
		case StateAdded, StateModified:
			entry.state = StateUnchanged
		case StateDeleted:
			s.forget(entry)
		}
	}
}

// Begin starts a transaction that later Exec and SaveChanges calls join.
// Only one transaction may be active per session.
func (s *Session) Begin(ctx context.Context) (*Transaction, error) {
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()

	if s.activeTx() != nil {
		return nil, domainerrors.ErrTransactionActive.WithDetails(s.id.String())
	}

	db := s.db.WithContext(withSessionID(ctx, s.id)).Clauses(dbresolver.Write).Begin()
	if db.Error != nil {
		return nil, classify(db.Error)
	}

	tx := &Transaction{session: s, db: db}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed.Load() {
		_, _ = tx.abandon()

		return nil, domainerrors.ErrSessionDisposed.WithDetails(s.id.String())
	}
	s.tx = tx

	return tx, nil
}

func (s *Session) clearTx(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == tx {
		s.tx = nil
	}
}

// TransactionLost reports whether Dispose rolled back a transaction the
// caller had not finished. Pending changes of such a session belonged to
// that transaction and must not be written anywhere else.
func (s *Session) TransactionLost() bool {
	return s.txLost.Load()
}

// Dispose invalidates the session and rolls back its active transaction.
// It is idempotent; only the first call can return an error.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if !s.disposed.CompareAndSwap(false, true) {
		s.mu.Unlock()

		return nil
	}
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	var err error
	if tx != nil {
		var active bool
		active, err = tx.abandon()
		s.txLost.Store(active)
	}

	s.logger.Debug("Session disposed",
		slog.String("session", s.id.String()),
		slog.Duration("age", time.Since(s.createdAt)),
	)

	return err
}
