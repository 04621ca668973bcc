package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTaskNotFound is returned by LoadTask when no row matches the id.
	ErrTaskNotFound = errors.New("store: task not found")

	// ErrUniqueViolation is returned when an insert collides with an
	// existing primary key or unique constraint (e.g. AppendEvent with a
	// duplicate event id).
	ErrUniqueViolation = errors.New("store: unique constraint violated")
)

const pgUniqueViolationCode = "23505"

// classifyPgError maps a raw pgx error to one of the store's sentinel
// errors when recognized, wrapping the original for %w unwrapping either
// way.
func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
		return fmt.Errorf("store: %s: %w: %s", op, ErrUniqueViolation, pgErr.Detail)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
