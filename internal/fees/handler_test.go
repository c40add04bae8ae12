package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), 42)))
		})
	})
	r.Route("/schools/{schoolID}", h.MountRoutes)
	return r, f
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerGenerateReturnsRunSummary(t *testing.T) {
	router, f := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/schools/1/fees/generate",
		`{"academic_year_id":2025,"student_ids":[1,2,99],"fee_structure_ids":[1],"discount_amount":"100","installments":{"count":2,"start_date":"2025-04-10"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, RunCompleted, body.Status)
	require.Equal(t, 4, body.Generated)
	require.Equal(t, 1, body.Failed)
	require.Equal(t, "1800", body.TotalAmount.String())
	require.Equal(t, int64(99), body.FailedStudents[0].StudentID)

	hist := f.repo.history[body.HistoryID]
	require.Equal(t, int64(42), hist.CreatedBy)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/schools/1/fees/history/%d", body.HistoryID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "MANUAL", got["type"])
	require.EqualValues(t, 4, got["generated"])

	rec = doJSON(t, router, http.MethodGet, "/schools/1/fees?student_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list struct {
		Data       []feeResponse     `json:"data"`
		Pagination shared.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	require.Equal(t, "2025-05-10", list.Data[1].DueDate)
	require.Equal(t, 2, list.Pagination.Total)
}

func TestHandlerGenerateMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "inactive structure", body: `{"academic_year_id":2025,"student_ids":[1],"fee_structure_ids":[4]}`, code: http.StatusBadRequest},
		{name: "missing cohort", body: `{"academic_year_id":2025,"fee_structure_ids":[1]}`, code: http.StatusBadRequest},
		{name: "bad due date", body: `{"academic_year_id":2025,"student_ids":[1],"fee_structure_ids":[1],"due_date":"10/04/2025"}`, code: http.StatusBadRequest},
		{name: "unknown field", body: `{"academic_year_id":2025,"student_ids":[1],"fee_structure_ids":[1],"amount":"5"}`, code: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router, f := newTestRouter(t)
			rec := doJSON(t, router, http.MethodPost, "/schools/1/fees/generate", tc.body)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			require.Empty(t, f.repo.history)
		})
	}
}

func TestHandlerAutomaticConflictsWhileRunning(t *testing.T) {
	router, f := newTestRouter(t)

	release, err := f.locker.Acquire(context.Background(), shared.FeeGenerationLockKey(1, "2025-04"), time.Minute)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/schools/1/fees/generate/automatic", `{"academic_year_id":2025}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	require.NoError(t, release(context.Background()))
	rec = doJSON(t, router, http.MethodPost, "/schools/1/fees/generate/automatic", `{"academic_year_id":2025,"period":"2025-04"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 18, body.Generated)
}

func TestHandlerHistoryLookups(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/schools/1/fees/history/77", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/schools/1/fees?student_id=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	doJSON(t, router, http.MethodPost, "/schools/1/fees/generate", `{"academic_year_id":2025,"class_ids":[11],"fee_structure_ids":[3]}`)
	rec = doJSON(t, router, http.MethodGet, "/schools/1/fees/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []historyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, 2, list.Data[0].Generated)
}
