package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/models"
	"github.com/aj9599/submeter-billing/services"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubParser map[string]services.AdminContext

func (p stubParser) ParseToken(token string) (services.AdminContext, error) {
	ac, ok := p[token]
	if !ok {
		return services.AdminContext{}, errors.New("bad token")
	}
	return ac, nil
}

var parser = stubParser{
	"admin-token": {AdminID: 1, UserID: 1, Role: models.RoleAdmin},
	"staff-token": {AdminID: 1, UserID: 7, Role: models.RoleReadingTaker},
}

func echoCaller(w http.ResponseWriter, r *http.Request) {
	ac, ok := AdminContextFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Header().Set("X-User", ac.Role)
	w.WriteHeader(http.StatusNoContent)
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware(parser)(http.HandlerFunc(echoCaller))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer staff-token", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/readings/mine", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := AuthMiddleware(parser)(RequireAdmin(http.HandlerFunc(echoCaller)))

	req := httptest.NewRequest(http.MethodGet, "/api/readings", nil)
	req.Header.Set("Authorization", "Bearer staff-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"admin access required"}`, rec.Body.String())

	req.Header.Set("Authorization", "Bearer admin-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.RoleAdmin, rec.Header().Get("X-User"))
}

func TestRequestIDPropagates(t *testing.T) {
	var seen *zap.Logger
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.NotNil(t, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsAndAccessLogPassThrough(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics, AccessLog)
	r.HandleFunc("/api/statement/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"statement 4: not found"}`))
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/statement/4", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}
