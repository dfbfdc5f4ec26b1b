package database

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/kbukum/stepflow/errors"
)

// SQLSTATE codes that change how an error is reported.
const (
	pgUniqueViolation  = "23505"
	pgSerialization    = "40001"
	pgDeadlock         = "40P01"
	pgTooManyConns     = "53300"
	pgAdminShutdown    = "57P01"
	pgConnectionPrefix = "08"
)

// IsNotFound reports a lookup that matched no row.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate reports a unique constraint violation.
func IsDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsTransient reports whether running the same statement again may
// succeed: lost connections, deadlocks, serialization failures and sqlite
// lock contention.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerialization, pgDeadlock, pgTooManyConns, pgAdminShutdown:
			return true
		}
		return strings.HasPrefix(pgErr.Code, pgConnectionPrefix)
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// Translate maps a store error onto the AppError returned to API callers.
func Translate(err error, resource, id string) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return apperrors.NotFound(resource, id)
	case IsDuplicate(err):
		return apperrors.AlreadyExists(resource).WithCause(err)
	case IsTransient(err):
		return apperrors.ServiceUnavailable("database").WithCause(err)
	default:
		return apperrors.DatabaseError(err)
	}
}
