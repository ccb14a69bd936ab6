// Package postgres contains the GORM-backed sessions, the session factory and
// the PostgreSQL pool they are created from.
package postgres

import (
	"sync"

	domainerrors "shopdesk/internal/domain/errors"

	"gorm.io/gorm"
)

// TxState is the lifecycle state of a Transaction.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	default:
		return "rolled back"
	}
}

// Transaction is a database transaction opened on a Session. It never
// outlives its Session: disposing the Session rolls it back.
type Transaction struct {
	session *Session
	db      *gorm.DB // In GORM, a transaction object *gorm.Tx is also a *gorm.DB

	mu    sync.Mutex
	state TxState
}

// State reports whether the transaction is active, committed or rolled back.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// SessionID identifies the session that opened the transaction.
func (t *Transaction) SessionID() string {
	return t.session.ID().String()
}

// Commit makes the transaction's writes durable.
func (t *Transaction) Commit() error {
	return t.finish(TxCommitted)
}

// Rollback discards the transaction's writes.
func (t *Transaction) Rollback() error {
	return t.finish(TxRolledBack)
}

func (t *Transaction) finish(target TxState) error {
	t.mu.Lock()
	if t.state != TxActive {
		state := t.state
		t.mu.Unlock()

		return domainerrors.ErrTransactionClosed.WithDetails(state.String())
	}

	var err error
	if target == TxCommitted {
		err = t.db.Commit().Error
	} else {
		err = t.db.Rollback().Error
	}

	// A failed commit leaves database/sql's transaction closed as well.
	if err != nil {
		t.state = TxRolledBack
	} else {
		t.state = target
	}
	t.mu.Unlock()

	t.session.clearTx(t)

	return classify(err)
}

// abandon rolls back an active transaction on behalf of Session.Dispose and
// reports whether it was still active. It does not touch the session's lock.
func (t *Transaction) abandon() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TxActive {
		return false, nil
	}
	t.state = TxRolledBack

	return true, t.db.Rollback().Error
}
