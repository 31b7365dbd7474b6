// Package httpapi serves the side HTTP endpoints: health, metrics and the
// OAuth redirect target.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

const checkTimeout = 2 * time.Second

// Authorizer completes the authorization code flow.
type Authorizer interface {
	CompleteAuthorization(ctx context.Context, code, state string) (*model.Credential, error)
}

// Check probes a dependency for /health.
type Check func(ctx context.Context) error

type handler struct {
	auth   Authorizer
	checks map[string]Check
}

// NewMux returns the side HTTP handler.
func NewMux(auth Authorizer, checks map[string]Check) *http.ServeMux {
	h := &handler{auth: auth, checks: checks}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /oauth/callback", h.callback)
	return mux
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// callback is where the authority redirects the user after consent.
func (h *handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Warn().Str("error", e).Str("description", q.Get("error_description")).Msg("Authorization denied by user or authority")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": e, "error_description": q.Get("error_description")})
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code and state are required"})
		return
	}

	cred, err := h.auth.CompleteAuthorization(r.Context(), code, state)
	var rejected *errs.AuthorityRejectedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tenant_id":  cred.TenantID,
			"tax_id":     cred.TaxID,
			"status":     cred.Status,
			"expires_at": cred.ExpiresAt,
		})
	case errors.Is(err, errs.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": "authorization rejected", "messages": rejected.Messages})
	default:
		log.Error().Err(err).Msg("Authorization callback failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
