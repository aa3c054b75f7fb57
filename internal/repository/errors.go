// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services to distinguish between different failure scenarios. For
// example, ErrEmailExists signals that a unique constraint on the
// users.email column rejected an insert, while ErrNotFound replaces
// sql.ErrNoRows so callers never depend on database/sql directly.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when an insert or update collides with
// another account's email address.
var ErrEmailExists = errors.New("email already exists")

// ErrPhoneExists is returned when a phone number is already attached to
// another account.
var ErrPhoneExists = errors.New("phone already exists")

// ErrConflict is returned when a conditional update finds the row in an
// unexpected state, such as consuming an OTP challenge that another
// request consumed first.
var ErrConflict = errors.New("conflict")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// duplicateKey inspects a MySQL duplicate entry error (1062) and maps the
// violated unique key onto a sentinel.  Other errors are returned as is.
func duplicateKey(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != 1062 {
		return err
	}
	switch {
	case strings.Contains(me.Message, "uq_users_phone"):
		return ErrPhoneExists
	case strings.Contains(me.Message, "uq_users_email"):
		return ErrEmailExists
	}
	return ErrConflict
}

// notFound converts sql.ErrNoRows into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// nullStr stores "" as NULL.
func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullInt stores 0 as NULL.
func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// nullID stores a nil profile reference as NULL.
func nullID(id *uint64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
