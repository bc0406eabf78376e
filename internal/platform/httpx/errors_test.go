package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shareregistry/shareledger/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantTitle  string
	}{
		{
			name:       "invalid argument maps to 400",
			err:        shared.Invalidf("page %d must be >= 0", -1),
			wantStatus: http.StatusBadRequest,
			wantTitle:  "Invalid Argument",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("ledger: get movement: %w", shared.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantTitle:  "Not Found",
		},
		{
			name:       "storage unavailable maps to 503",
			err:        fmt.Errorf("ledger: count movements: connection refused: %w", shared.ErrStorageUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantTitle:  "Storage Unavailable",
		},
		{
			name:       "unclassified maps to 500",
			err:        fmt.Errorf("ledger: list movements: syntax error"),
			wantStatus: http.StatusInternalServerError,
			wantTitle:  "Internal Error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)

			require.Equal(t, tc.wantStatus, rec.Code)
			require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			require.Equal(t, tc.wantTitle, problem.Title)
			require.Equal(t, tc.wantStatus, problem.Status)
		})
	}
}

func TestRespondErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("ledger: balances: %w", shared.ErrStorageUnavailable))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "storage temporarily unavailable, retry later", problem.Detail)
}
