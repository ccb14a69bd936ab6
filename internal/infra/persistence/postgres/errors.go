package postgres

import (
	"database/sql"
	"database/sql/driver"
	"net"
	"strings"

	domainerrors "shopdesk/internal/domain/errors"
	"shopdesk/internal/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE codes that mean the server side of the connection is gone.
var connectionLostCodes = map[string]struct{}{
	"08000": {}, // connection_exception
	"08003": {}, // connection_does_not_exist
	"08006": {}, // connection_failure
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
}

const serializationFailure = "40001"

// IsStale reports whether err means the session that produced it must not
// be used again.
func IsStale(err error) bool {
	return domainerrors.IsStaleSession(err)
}

// classify turns resource-lifecycle failures into the data-access taxonomy.
// Every other error, including constraint and validation failures, is
// returned unchanged.
func classify(err error) error {
	if err == nil || IsStale(err) || errors.IsAny(err, domainerrors.ErrConcurrencyConflict, domainerrors.ErrUnavailable) {
		return err
	}

	if isClosedResource(err) {
		return domainerrors.ErrStaleSession.Because(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return domainerrors.ErrConcurrencyConflict.Because(err)
	}

	return err
}

func isClosedResource(err error) bool {
	if errors.IsAny(err, sql.ErrConnDone, driver.ErrBadConn, net.ErrClosed, gorm.ErrInvalidDB) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, lost := connectionLostCodes[pgErr.Code]

		return lost
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	// database/sql does not export its closed-pool error.
	msg := err.Error()

	return strings.Contains(msg, "sql: database is closed") || strings.Contains(msg, "conn closed")
}
