package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/teresa-solution/fiscal-compliance-service/internal/anaf"
	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/saft"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

const (
	// TokenRefreshBuffer is how long before expiry a token stops being
	// handed out.
	TokenRefreshBuffer = 5 * time.Minute

	stateTTL   = 10 * time.Minute
	stateBytes = 32

	scopeAccess = "SPVWebServiceAccess"
	scopeUpload = "SPVWebServiceUpload"
)

// Authority is the part of the tax authority client the services use.
type Authority interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*anaf.TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (*anaf.TokenGrant, error)
	UploadInvoice(ctx context.Context, accessToken, taxID string, document []byte) (*anaf.UploadResult, error)
	UploadAuditFile(ctx context.Context, accessToken, taxID, period string, document []byte) (*anaf.UploadResult, error)
	Status(ctx context.Context, accessToken, uploadIndex string) (*anaf.StatusResponse, error)
	Messages(ctx context.Context, accessToken, taxID string, days int) ([]anaf.Message, error)
}

// TokenSource hands out access tokens that are valid for at least
// TokenRefreshBuffer.
type TokenSource interface {
	GetValidToken(ctx context.Context, tenantID string) (string, error)
}

// TokenManager owns the per-tenant credential lifecycle:
// pending -> active -> expired -> active ... -> revoked, with error
// recoverable by authorizing again.
type TokenManager struct {
	creds      store.CredentialStore
	states     store.StateStore
	authority  Authority
	clock      clock.Clock
	events     notify.Publisher
	refreshTTL time.Duration

	// refreshes collapses concurrent refreshes of the same tenant.
	refreshes singleflight.Group
}

func NewTokenManager(creds store.CredentialStore, states store.StateStore, authority Authority, clk clock.Clock, events notify.Publisher, refreshTTL time.Duration) *TokenManager {
	if clk == nil {
		clk = clock.Real()
	}
	if events == nil {
		events = notify.LogPublisher{}
	}
	return &TokenManager{
		creds:      creds,
		states:     states,
		authority:  authority,
		clock:      clk,
		events:     events,
		refreshTTL: refreshTTL,
	}
}

// BeginAuthorization starts the authorization code flow and returns the URL
// to redirect the user to together with the one-time state.
func (m *TokenManager) BeginAuthorization(ctx context.Context, tenantID, taxID string) (string, string, error) {
	if tenantID == "" {
		return "", "", fmt.Errorf("%w: tenant id is required", errs.ErrInvalidInput)
	}
	if !saft.ValidTaxID(taxID) {
		return "", "", fmt.Errorf("%w: invalid tax id %q", errs.ErrInvalidInput, taxID)
	}
	taxID = saft.NormalizeTaxID(taxID)

	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	state := hex.EncodeToString(buf)

	now := m.clock.Now()
	pending, err := json.Marshal(model.PendingAuthorization{TenantID: tenantID, TaxID: taxID, ExpiresAt: now.Add(stateTTL)})
	if err != nil {
		return "", "", err
	}
	if err := m.states.Put(ctx, state, pending, stateTTL); err != nil {
		return "", "", fmt.Errorf("store authorization state: %w", err)
	}

	existing, err := m.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	if existing == nil {
		cred := &model.Credential{
			TenantID:  tenantID,
			TaxID:     taxID,
			Status:    model.CredentialPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.creds.SaveCredential(ctx, cred); err != nil {
			return "", "", err
		}
	}

	log.Info().Str("tenant_id", tenantID).Str("tax_id", taxID).Msg("Authorization started")
	return m.authority.AuthCodeURL(state), state, nil
}

// CompleteAuthorization handles the callback: the state is consumed once,
// the code is exchanged and the credential activated. A failed exchange
// leaves the credential in the error state.
func (m *TokenManager) CompleteAuthorization(ctx context.Context, code, state string) (*model.Credential, error) {
	raw, ok, err := m.states.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("read authorization state: %w", err)
	}
	if !ok {
		return nil, errs.ErrInvalidState
	}
	var pending model.PendingAuthorization
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, errs.ErrInvalidState
	}
	now := m.clock.Now()
	if !now.Before(pending.ExpiresAt) {
		return nil, errs.ErrInvalidState
	}

	cred, err := m.creds.GetCredential(ctx, pending.TenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		cred = &model.Credential{TenantID: pending.TenantID, CreatedAt: now}
	}
	cred.TaxID = pending.TaxID
	previous := cred.Status

	grant, exchangeErr := m.authority.Exchange(ctx, code)
	if exchangeErr != nil {
		cred.Status = model.CredentialError
		cred.AccessToken = ""
		cred.RefreshToken = ""
		cred.LastError = exchangeErr.Error()
		cred.UpdatedAt = now
		if err := m.creds.SaveCredential(ctx, cred); err != nil {
			log.Error().Err(err).Str("tenant_id", cred.TenantID).Msg("Failed to persist credential error")
		}
		log.Warn().Err(exchangeErr).Str("tenant_id", cred.TenantID).Msg("Authorization code exchange failed")
		m.publish(ctx, cred, previous)
		return nil, exchangeErr
	}

	m.applyGrant(cred, grant, now)
	if err := m.creds.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	log.Info().Str("tenant_id", cred.TenantID).Time("expires_at", cred.ExpiresAt).Msg("Authorization completed")
	m.publish(ctx, cred, previous)
	return cred, nil
}

// GetValidToken returns an access token that stays valid for at least
// TokenRefreshBuffer, refreshing first when needed.
func (m *TokenManager) GetValidToken(ctx context.Context, tenantID string) (string, error) {
	cred, err := m.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", errs.ErrUnauthorized
	}

	if !m.usable(cred) {
		if cred.RefreshToken == "" {
			return "", errs.ErrUnauthorized
		}
		ok, err := m.Refresh(ctx, tenantID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errs.ErrUnauthorized
		}
		if cred, err = m.creds.GetCredential(ctx, tenantID); err != nil {
			return "", err
		}
		if cred == nil || !m.usable(cred) {
			return "", errs.ErrUnauthorized
		}
	}

	if err := m.creds.TouchCredential(ctx, tenantID, m.clock.Now()); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to record token use")
	}
	return cred.AccessToken, nil
}

func (m *TokenManager) usable(cred *model.Credential) bool {
	return cred.Status == model.CredentialActive &&
		cred.AccessToken != "" &&
		m.clock.Now().Add(TokenRefreshBuffer).Before(cred.ExpiresAt)
}

// Refresh runs the refresh grant for a tenant. An authority failure marks
// the credential expired and reports false with a nil error; only rate
// limiting, a missing credential or storage failures return an error.
func (m *TokenManager) Refresh(ctx context.Context, tenantID string) (bool, error) {
	v, err, _ := m.refreshes.Do(tenantID, func() (interface{}, error) {
		return m.refresh(ctx, tenantID)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (m *TokenManager) refresh(ctx context.Context, tenantID string) (bool, error) {
	cred, err := m.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, errs.ErrUnauthorized
	}
	now := m.clock.Now()
	previous := cred.Status

	if cred.Status == model.CredentialRevoked || cred.RefreshToken == "" {
		monitoring.TokenRefreshes.WithLabelValues("no_refresh_token").Inc()
		return false, nil
	}
	if cred.RefreshExpiresAt != nil && !now.Before(*cred.RefreshExpiresAt) {
		monitoring.TokenRefreshes.WithLabelValues("refresh_token_expired").Inc()
		return false, m.expire(ctx, cred, "refresh token expired", previous)
	}

	grant, refreshErr := m.authority.Refresh(ctx, cred.RefreshToken)
	if refreshErr != nil {
		if _, limited := errs.RetryAfter(refreshErr); limited {
			monitoring.TokenRefreshes.WithLabelValues("rate_limited").Inc()
			return false, refreshErr
		}
		monitoring.TokenRefreshes.WithLabelValues("failed").Inc()
		log.Warn().Err(refreshErr).Str("tenant_id", tenantID).Msg("Token refresh failed")
		monitoring.Alert("Tax authority connection expired, tenant must re-authorize", map[string]string{"tenant_id": tenantID})
		return false, m.expire(ctx, cred, refreshErr.Error(), previous)
	}

	m.applyGrant(cred, grant, now)
	if err := m.creds.SaveCredential(ctx, cred); err != nil {
		return false, fmt.Errorf("save credential: %w", err)
	}
	monitoring.TokenRefreshes.WithLabelValues("success").Inc()
	log.Info().Str("tenant_id", tenantID).Time("expires_at", cred.ExpiresAt).Msg("Access token refreshed")
	if previous != cred.Status {
		m.publish(ctx, cred, previous)
	}
	return true, nil
}

// expire keeps the refresh token so a later attempt can still recover from
// a transient failure.
func (m *TokenManager) expire(ctx context.Context, cred *model.Credential, reason string, previous model.CredentialStatus) error {
	cred.Status = model.CredentialExpired
	cred.AccessToken = ""
	cred.LastError = reason
	cred.UpdatedAt = m.clock.Now()
	if err := m.creds.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	if previous != cred.Status {
		m.publish(ctx, cred, previous)
	}
	return nil
}

func (m *TokenManager) applyGrant(cred *model.Credential, grant *anaf.TokenGrant, now time.Time) {
	cred.AccessToken = grant.AccessToken
	cred.ExpiresAt = now.Add(grant.ExpiresIn)
	if grant.RefreshToken != "" {
		cred.RefreshToken = grant.RefreshToken
		if m.refreshTTL > 0 {
			exp := now.Add(m.refreshTTL)
			cred.RefreshExpiresAt = &exp
		}
	}
	if grant.Scope != "" {
		cred.Scope = grant.Scope
	}
	cred.Status = model.CredentialActive
	cred.LastError = ""
	cred.UpdatedAt = now
}

// Disconnect revokes the tenant's credential. Tenants without one are left
// alone.
func (m *TokenManager) Disconnect(ctx context.Context, tenantID string) error {
	cred, err := m.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	previous := cred.Status
	cred.Status = model.CredentialRevoked
	cred.AccessToken = ""
	cred.RefreshToken = ""
	cred.RefreshExpiresAt = nil
	cred.UpdatedAt = m.clock.Now()
	if err := m.creds.SaveCredential(ctx, cred); err != nil {
		return err
	}
	log.Info().Str("tenant_id", tenantID).Msg("Tax authority connection revoked")
	m.publish(ctx, cred, previous)
	return nil
}

// Features are the authority services a credential's scope unlocks.
type Features struct {
	EInvoice      bool `json:"e_invoice"`
	AuditFile     bool `json:"audit_file"`
	Notifications bool `json:"notifications"`
}

type ConnectionStatus struct {
	Connected bool                   `json:"connected"`
	Status    model.CredentialStatus `json:"status,omitempty"`
	TaxID     string                 `json:"tax_id,omitempty"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Features  Features               `json:"features"`
}

func (m *TokenManager) ConnectionStatus(ctx context.Context, tenantID string) (*ConnectionStatus, error) {
	cred, err := m.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &ConnectionStatus{}, nil
	}
	out := &ConnectionStatus{
		Connected: cred.Status == model.CredentialActive,
		Status:    cred.Status,
		TaxID:     cred.TaxID,
		LastError: cred.LastError,
	}
	if !cred.ExpiresAt.IsZero() {
		exp := cred.ExpiresAt
		out.ExpiresAt = &exp
	}
	if out.Connected {
		for _, s := range strings.Fields(cred.Scope) {
			switch s {
			case scopeAccess:
				out.Features.EInvoice = true
				out.Features.Notifications = true
			case scopeUpload:
				out.Features.AuditFile = true
			}
		}
	}
	return out, nil
}

// ExpiringCredentials lists credentials the refresh sweep should renew.
func (m *TokenManager) ExpiringCredentials(ctx context.Context, horizon time.Duration) ([]model.Credential, error) {
	return m.creds.ListExpiringCredentials(ctx, m.clock.Now().Add(horizon))
}

// ActiveCredentials lists every tenant with a usable connection.
func (m *TokenManager) ActiveCredentials(ctx context.Context) ([]model.Credential, error) {
	return m.creds.ListActiveCredentials(ctx)
}

func (m *TokenManager) publish(ctx context.Context, cred *model.Credential, previous model.CredentialStatus) {
	err := m.events.Publish(ctx, notify.Event{
		Type:           notify.EventCredentialStatus,
		TenantID:       cred.TenantID,
		Status:         string(cred.Status),
		PreviousStatus: string(previous),
		OccurredAt:     m.clock.Now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("tenant_id", cred.TenantID).Msg("Failed to publish credential event")
	}
}
