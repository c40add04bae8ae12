package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: invoice not found", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: Payment amount exceeds remaining balance", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: amount is required", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: no receivable account", shared.ErrConfiguration), http.StatusUnprocessableEntity},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{errors.New("driver: bad connection"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code)

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
		if tc.status != http.StatusInternalServerError {
			require.Equal(t, tc.err.Error(), body.Detail)
		} else {
			require.Empty(t, body.Detail)
		}
	}
}
