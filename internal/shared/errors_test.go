package shared

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyStorageError(t *testing.T) {
	require.NoError(t, ClassifyStorageError("op", nil))

	err := ClassifyStorageError("op", pgx.ErrNoRows)
	require.ErrorIs(t, err, ErrNotFound)

	err = ClassifyStorageError("op", &pgconn.PgError{Code: "08006", Message: "connection failure"})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	plain := errors.New("syntax error")
	err = ClassifyStorageError("op", plain)
	require.ErrorIs(t, err, plain)
	require.NotErrorIs(t, err, ErrStorageUnavailable)
}

func TestValidatePageWindow(t *testing.T) {
	require.NoError(t, ValidatePageWindow(0, 50))
	require.NoError(t, ValidatePageWindow(7, 1))
	require.ErrorIs(t, ValidatePageWindow(-1, 50), ErrInvalidArgument)
	require.ErrorIs(t, ValidatePageWindow(0, 0), ErrInvalidArgument)
	require.ErrorIs(t, ValidatePageWindow(0, -10), ErrInvalidArgument)
}
