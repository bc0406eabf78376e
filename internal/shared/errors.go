package shared

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidArgument indicates malformed or missing required input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable indicates the durable store cannot be reached.
	// Callers may retry; the core performs no retry itself.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Invalidf wraps ErrInvalidArgument with a formatted detail message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// ClassifyStorageError folds driver-level failures into the ledger error
// taxonomy. Row absence maps to ErrNotFound, connectivity failures to
// ErrStorageUnavailable, anything else passes through wrapped.
func ClassifyStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return fmt.Errorf("%s: %v: %w", op, pgErr.Message, ErrStorageUnavailable)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// UserSafeMessage returns a message safe to surface to API consumers.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage temporarily unavailable, retry later"
	default:
		return "internal error"
	}
}
