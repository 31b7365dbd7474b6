// Package store persists credentials, submissions, inbound messages and
// compliance reports, and reads the accounting ledger. Lookups that find
// nothing return nil, nil.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

type CredentialStore interface {
	GetCredential(ctx context.Context, tenantID string) (*model.Credential, error)
	// SaveCredential inserts or replaces the tenant's credential.
	SaveCredential(ctx context.Context, cred *model.Credential) error
	// TouchCredential records a token use. Only active credentials are
	// touched; anything else is left as is.
	TouchCredential(ctx context.Context, tenantID string, at time.Time) error
	// ListExpiringCredentials returns active credentials holding a refresh
	// token whose access token expires before the given time.
	ListExpiringCredentials(ctx context.Context, before time.Time) ([]model.Credential, error)
	ListActiveCredentials(ctx context.Context) ([]model.Credential, error)
}

type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, tenantID string, id uuid.UUID) (*model.Submission, error)
	GetSubmissionByReference(ctx context.Context, tenantID, externalReference string) (*model.Submission, error)
	// UpdateSubmission writes sub only if the stored status is still from.
	// It returns errs.ErrStale when the status moved on and errs.ErrNotFound
	// for an unknown id.
	UpdateSubmission(ctx context.Context, sub *model.Submission, from model.SubmissionStatus) error
	ListSubmissions(ctx context.Context, tenantID string, filter model.SubmissionFilter) ([]model.Submission, error)
	// ListOpenSubmissions returns pending and processing submissions of
	// every tenant submitted at or after since, oldest first.
	ListOpenSubmissions(ctx context.Context, since time.Time) ([]model.Submission, error)
	CountOpenSubmissions(ctx context.Context, tenantID string) (int, error)
}

type MessageStore interface {
	// UpsertMessage inserts msg unless its ExternalMessageID is already
	// stored, in which case nothing changes and created is false.
	UpsertMessage(ctx context.Context, msg *model.InboundMessage) (created bool, err error)
	ListMessages(ctx context.Context, tenantID string, limit, offset int) ([]model.InboundMessage, error)
	CountMessages(ctx context.Context, tenantID string) (total, unread int, err error)
	// MarkMessageRead returns errs.ErrNotFound for an unknown message.
	MarkMessageRead(ctx context.Context, tenantID string, id uuid.UUID, at time.Time) error
}

type ReportStore interface {
	GetReport(ctx context.Context, tenantID, period string) (*model.ComplianceReport, error)
	// SaveReport inserts or replaces the report for (tenant, period).
	SaveReport(ctx context.Context, report *model.ComplianceReport) error
	ListReports(ctx context.Context, tenantID string, year int) ([]model.ComplianceReport, error)
}

// LedgerReader reads the accounting data of a tenant dated in [from, to).
type LedgerReader interface {
	Ledger(ctx context.Context, tenantID string, from, to time.Time) (*model.Ledger, error)
}

// StateStore holds short-lived authorization state. Take returns the value
// and removes it atomically, so a key is consumed at most once.
type StateStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, bool, error)
}

// Store is everything the service persists plus the ledger.
type Store interface {
	CredentialStore
	SubmissionStore
	MessageStore
	ReportStore
	LedgerReader
	Close()
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
