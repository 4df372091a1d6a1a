package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerOnboardAndMetrics(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	h.MountRoutes(r)
	r.Route("/schools/{schoolID}", h.MountSchoolRoutes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/schools", `{"name":"Hillcrest","slug":"hillcrest"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out Onboarded
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	rec = do(http.MethodGet, "/schools/"+out.School.ID+"/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m SchoolFeeMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, out.School.ID, m.SchoolID)

	rec = do(http.MethodPost, "/schools/"+out.School.ID+"/subscription", `{"plan_id":"enterprise","interval":"weekly"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodGet, "/schools/missing/subscription", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/billing/plans", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"enterprise"`)

	rec = do(http.MethodDelete, "/schools/"+out.School.ID+"/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodDelete, "/schools/"+out.School.ID+"/subscription", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}
