package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

type authorizerFunc func(ctx context.Context, code, state string) (*model.Credential, error)

func (f authorizerFunc) CompleteAuthorization(ctx context.Context, code, state string) (*model.Credential, error) {
	return f(ctx, code, state)
}

func serve(t *testing.T, mux http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCallback(t *testing.T) {
	auth := authorizerFunc(func(_ context.Context, code, state string) (*model.Credential, error) {
		switch state {
		case "good":
			return &model.Credential{
				TenantID:  "tenant-1",
				TaxID:     "12345674",
				Status:    model.CredentialActive,
				ExpiresAt: time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC),
			}, nil
		case "rejected":
			return nil, &errs.AuthorityRejectedError{Messages: []string{"invalid_grant: code expired"}}
		case "broken":
			return nil, errors.New("database down")
		}
		return nil, errs.ErrInvalidState
	})
	mux := NewMux(auth, nil)

	rec := serve(t, mux, "/oauth/callback?code=c&state=good")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tenant-1", body["tenant_id"])
	assert.Equal(t, "active", body["status"])

	tests := []struct {
		target string
		code   int
	}{
		{"/oauth/callback?code=c&state=unknown", http.StatusBadRequest},
		{"/oauth/callback?code=c&state=rejected", http.StatusBadGateway},
		{"/oauth/callback?code=c&state=broken", http.StatusInternalServerError},
		{"/oauth/callback?state=good", http.StatusBadRequest},
		{"/oauth/callback?error=access_denied&error_description=user+cancelled", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.code, serve(t, mux, tt.target).Code)
		})
	}
}

func TestHealth(t *testing.T) {
	healthy := NewMux(nil, map[string]Check{"database": func(context.Context) error { return nil }})
	rec := serve(t, healthy, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	failing := NewMux(nil, map[string]Check{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	rec = serve(t, failing, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Failed)
}

func TestMetrics(t *testing.T) {
	rec := serve(t, NewMux(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
