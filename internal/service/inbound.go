package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

// subjects gives readable titles to the SPV message types.
var subjects = map[string]string{
	"FACTURA PRIMITA":  "Factură primită",
	"FACTURA TRIMISA":  "Factură trimisă",
	"ERORI FACTURA":    "Erori factură",
	"MESAJ CUMPARATOR": "Mesaj cumpărător",
}

func subjectFor(messageType string) string {
	if s, ok := subjects[strings.ToUpper(strings.TrimSpace(messageType))]; ok {
		return s
	}
	if messageType == "" {
		return "Mesaj SPV"
	}
	return messageType
}

// MessagePage is one page of a tenant's inbox.
type MessagePage struct {
	Messages []model.InboundMessage `json:"messages"`
	Total    int                    `json:"total"`
	Unread   int                    `json:"unread"`
}

// Inbox mirrors the authority's SPV message list.
type Inbox struct {
	messages  store.MessageStore
	creds     store.CredentialStore
	tokens    TokenSource
	authority Authority
	clock     clock.Clock
	events    notify.Publisher
	days      int
}

func NewInbox(messages store.MessageStore, creds store.CredentialStore, tokens TokenSource, authority Authority, clk clock.Clock, events notify.Publisher, days int) *Inbox {
	if clk == nil {
		clk = clock.Real()
	}
	if events == nil {
		events = notify.LogPublisher{}
	}
	return &Inbox{messages: messages, creds: creds, tokens: tokens, authority: authority, clock: clk, events: events, days: days}
}

// SyncMessages pulls the tenant's recent messages and stores the new ones.
// Messages already stored are left untouched, so repeated runs are safe.
func (i *Inbox) SyncMessages(ctx context.Context, tenantID string) (int, error) {
	cred, err := i.creds.GetCredential(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if cred == nil || cred.TaxID == "" {
		return 0, errs.ErrUnauthorized
	}
	token, err := i.tokens.GetValidToken(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	msgs, err := i.authority.Messages(ctx, token, cred.TaxID, i.days)
	if err != nil {
		return 0, err
	}

	now := i.clock.Now()
	created := 0
	for _, m := range msgs {
		received := m.CreatedAt
		if received.IsZero() {
			received = now
		}
		msg := &model.InboundMessage{
			TenantID:             tenantID,
			ExternalMessageID:    m.ID,
			Type:                 m.Type,
			Subject:              subjectFor(m.Type),
			Details:              m.Details,
			IssuerTaxID:          m.IssuerTaxID,
			RelatedSubmissionRef: m.RequestID,
			ReceivedAt:           received,
			Status:               model.MessageUnread,
		}
		ok, err := i.messages.UpsertMessage(ctx, msg)
		if err != nil {
			return created, fmt.Errorf("store message %s: %w", m.ID, err)
		}
		if ok {
			created++
		}
	}

	log.Info().Str("tenant_id", tenantID).Int("fetched", len(msgs)).Int("new", created).Msg("Inbound messages synced")
	if created > 0 {
		err := i.events.Publish(ctx, notify.Event{
			Type:       notify.EventMessagesReceived,
			TenantID:   tenantID,
			Count:      created,
			OccurredAt: now,
		})
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to publish messages event")
		}
	}
	return created, nil
}

func (i *Inbox) ListMessages(ctx context.Context, tenantID string, limit, offset int) (*MessagePage, error) {
	msgs, err := i.messages.ListMessages(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, unread, err := i.messages.CountMessages(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &MessagePage{Messages: msgs, Total: total, Unread: unread}, nil
}

func (i *Inbox) MarkMessageRead(ctx context.Context, tenantID string, id uuid.UUID) error {
	return i.messages.MarkMessageRead(ctx, tenantID, id, i.clock.Now())
}

// UnreadCount returns the number of unread messages of a tenant.
func (i *Inbox) UnreadCount(ctx context.Context, tenantID string) (int, error) {
	_, unread, err := i.messages.CountMessages(ctx, tenantID)
	return unread, err
}
