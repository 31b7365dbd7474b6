package model

import "time"

type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
	ReportAccepted  ReportStatus = "accepted"
	ReportRejected  ReportStatus = "rejected"
)

// ReportTypeD406Monthly is the only report type produced today.
const ReportTypeD406Monthly = "D406_MONTHLY"

// ComplianceReport represents the fiscal_reports table, one row per
// (tenant, period).
type ComplianceReport struct {
	TenantID          string       `json:"tenant_id"`
	Period            string       `json:"period"`
	ReportType        string       `json:"report_type"`
	Status            ReportStatus `json:"status"`
	DocumentHash      string       `json:"document_hash,omitempty"`
	DocumentSize      int64        `json:"document_size,omitempty"`
	Archive           []byte       `json:"-"` // zstd-compressed XML
	ExternalReference string       `json:"external_reference,omitempty"`
	GeneratedAt       time.Time    `json:"generated_at"`
	SubmittedAt       *time.Time   `json:"submitted_at,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}
