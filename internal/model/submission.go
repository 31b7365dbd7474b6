package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionKind distinguishes the two upload flows.
type SubmissionKind string

const (
	KindInvoiceSend     SubmissionKind = "invoice_send"
	KindAuditFileUpload SubmissionKind = "audit_file_upload"
)

// SubmissionStatus is the processing state of an uploaded document.
type SubmissionStatus string

const (
	SubmissionPending    SubmissionStatus = "pending"
	SubmissionProcessing SubmissionStatus = "processing"
	SubmissionAccepted   SubmissionStatus = "accepted"
	SubmissionRejected   SubmissionStatus = "rejected"
	SubmissionError      SubmissionStatus = "error"
)

// rank orders statuses for the monotonic transition check. Error sits with
// the terminal outcomes since it is only left through an explicit retry.
func (s SubmissionStatus) rank() int {
	switch s {
	case SubmissionPending:
		return 0
	case SubmissionProcessing:
		return 1
	case SubmissionAccepted, SubmissionRejected, SubmissionError:
		return 2
	}
	return -1
}

// Terminal reports whether no further automatic transition is possible.
func (s SubmissionStatus) Terminal() bool { return s.rank() == 2 }

// CanTransition reports whether an automatic transition from s to next is
// allowed. Terminal states never move automatically.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	return next.rank() >= s.rank()
}

// Retryable reports whether an operator may reset the submission.
func (s SubmissionStatus) Retryable() bool {
	return s == SubmissionError || s == SubmissionRejected
}

// Submission represents the fiscal_submissions table.
type Submission struct {
	ID                uuid.UUID        `json:"id"`
	TenantID          string           `json:"tenant_id"`
	TaxID             string           `json:"tax_id"`
	Kind              SubmissionKind   `json:"kind"`
	ExternalReference string           `json:"external_reference"`
	Period            string           `json:"period,omitempty"`
	DocumentHash      string           `json:"document_hash,omitempty"`
	DocumentSize      int64            `json:"document_size,omitempty"`
	Status            SubmissionStatus `json:"status"`
	AuthorityStatus   string           `json:"authority_status,omitempty"`
	DownloadID        string           `json:"download_id,omitempty"`
	Errors            []string         `json:"errors,omitempty"`
	RetryCount        int              `json:"retry_count"`
	SubmittedAt       time.Time        `json:"submitted_at"`
	LastCheckedAt     *time.Time       `json:"last_checked_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// SubmissionFilter narrows ListSubmissions. Zero values match everything.
type SubmissionFilter struct {
	Kind   SubmissionKind
	Status SubmissionStatus
	Period string
	Limit  int
	Offset int
}
