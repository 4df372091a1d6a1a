package guardians

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

	"github.com/schoolfees/schoolfees/internal/school"
)

func newGuardiansRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _, _ := newTestService(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/schools/{schoolID}", h.MountSchoolRoutes)
	r.Route("/students/{studentID}", h.MountStudentRoutes)
	r.Route("/parents/{parentID}", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAssignmentLifecycle(t *testing.T) {
	h := newGuardiansRouter(t)

	rec := do(t, h, http.MethodPost, "/schools/sch-1/parents", `{"name":"Ngozi","email":"ngozi@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var parent school.ParentAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parent))
	require.NotEmpty(t, parent.ID)

	rec = do(t, h, http.MethodPost, "/parents/"+parent.ID+"/children", `{"student_id":"stu-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var link school.Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	require.Equal(t, school.RelationshipGuardian, link.Relationship)
	require.True(t, link.IsPrimary)

	rec = do(t, h, http.MethodPost, "/parents/"+parent.ID+"/children", `{"student_id":"stu-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/students/stu-1/guardians", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var guardians struct {
		Guardians []Guardian `json:"guardians"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &guardians))
	require.Len(t, guardians.Guardians, 1)
	require.Equal(t, parent.ID, guardians.Guardians[0].Parent.ID)

	rec = do(t, h, http.MethodDelete, "/parents/"+parent.ID+"/children/stu-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/parents/"+parent.ID+"/children/stu-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := newGuardiansRouter(t)

	rec := do(t, h, http.MethodPost, "/schools/sch-1/parents", `{"name":"Ngozi","email":"not-an-email"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/schools/sch-1/parents", `{"name":"Ngozi","email":"n@example.com","extra":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/parents/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
