package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageUnread MessageStatus = "unread"
	MessageRead   MessageStatus = "read"
)

// InboundMessage represents the fiscal_messages table. ExternalMessageID
// is unique across all tenants.
type InboundMessage struct {
	ID                   uuid.UUID     `json:"id"`
	TenantID             string        `json:"tenant_id"`
	ExternalMessageID    string        `json:"external_message_id"`
	Type                 string        `json:"type"`
	Subject              string        `json:"subject"`
	Details              string        `json:"details,omitempty"`
	IssuerTaxID          string        `json:"issuer_tax_id,omitempty"`
	RelatedSubmissionRef string        `json:"related_submission_ref,omitempty"`
	ReceivedAt           time.Time     `json:"received_at"`
	Status               MessageStatus `json:"status"`
	ReadAt               *time.Time    `json:"read_at,omitempty"`
}
