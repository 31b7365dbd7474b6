package model

import "time"

// CredentialStatus is the lifecycle state of a tenant's authority
// credential.
type CredentialStatus string

const (
	CredentialPending CredentialStatus = "pending"
	CredentialActive  CredentialStatus = "active"
	CredentialExpired CredentialStatus = "expired"
	CredentialRevoked CredentialStatus = "revoked"
	CredentialError   CredentialStatus = "error"
)

// Credential represents the fiscal_credentials table. AccessToken is
// non-empty iff Status is CredentialActive.
type Credential struct {
	TenantID         string           `json:"tenant_id"`
	TaxID            string           `json:"tax_id"`
	AccessToken      string           `json:"-"`
	RefreshToken     string           `json:"-"`
	ExpiresAt        time.Time        `json:"expires_at"`
	RefreshExpiresAt *time.Time       `json:"refresh_expires_at,omitempty"`
	Scope            string           `json:"scope"`
	Status           CredentialStatus `json:"status"`
	LastUsedAt       *time.Time       `json:"last_used_at,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// PendingAuthorization is held in the state store between the authorize
// redirect and the callback.
type PendingAuthorization struct {
	TenantID  string    `json:"tenant_id"`
	TaxID     string    `json:"tax_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
