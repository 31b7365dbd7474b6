package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

// Memory is an in-process Store used by tests and the --store=memory
// development mode. Values are copied in and out.
type Memory struct {
	mu          sync.RWMutex
	credentials map[string]model.Credential
	submissions map[uuid.UUID]model.Submission
	messages    map[uuid.UUID]model.InboundMessage
	messageIDs  map[string]uuid.UUID
	reports     map[string]model.ComplianceReport
	ledgers     map[string]*model.Ledger
}

func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[string]model.Credential),
		submissions: make(map[uuid.UUID]model.Submission),
		messages:    make(map[uuid.UUID]model.InboundMessage),
		messageIDs:  make(map[string]uuid.UUID),
		reports:     make(map[string]model.ComplianceReport),
		ledgers:     make(map[string]*model.Ledger),
	}
}

func (m *Memory) Close() {}

func (m *Memory) GetCredential(_ context.Context, tenantID string) (*model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[tenantID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) SaveCredential(_ context.Context, cred *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.credentials[cred.TenantID]; ok && cred.CreatedAt.IsZero() {
		cred.CreatedAt = existing.CreatedAt
	}
	m.credentials[cred.TenantID] = *cred
	return nil
}

func (m *Memory) TouchCredential(_ context.Context, tenantID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[tenantID]
	if !ok || c.Status != model.CredentialActive {
		return nil
	}
	c.LastUsedAt = &at
	m.credentials[tenantID] = c
	return nil
}

func (m *Memory) ListExpiringCredentials(_ context.Context, before time.Time) ([]model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Credential
	for _, c := range m.credentials {
		if c.Status == model.CredentialActive && c.RefreshToken != "" && c.ExpiresAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *Memory) ListActiveCredentials(_ context.Context) ([]model.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Credential
	for _, c := range m.credentials {
		if c.Status == model.CredentialActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func copySubmission(s model.Submission) model.Submission {
	s.Errors = append([]string(nil), s.Errors...)
	return s
}

func (m *Memory) CreateSubmission(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	m.submissions[sub.ID] = copySubmission(*sub)
	return nil
}

func (m *Memory) GetSubmission(_ context.Context, tenantID string, id uuid.UUID) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	s = copySubmission(s)
	return &s, nil
}

func (m *Memory) GetSubmissionByReference(_ context.Context, tenantID, externalReference string) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.submissions {
		if s.TenantID == tenantID && s.ExternalReference == externalReference {
			s = copySubmission(s)
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateSubmission(_ context.Context, sub *model.Submission, from model.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.submissions[sub.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("submission %s is %s: %w", sub.ID, stored.Status, errs.ErrStale)
	}
	m.submissions[sub.ID] = copySubmission(*sub)
	return nil
}

func (m *Memory) sortedSubmissions(match func(model.Submission) bool) []model.Submission {
	var out []model.Submission
	for _, s := range m.submissions {
		if match(s) {
			out = append(out, copySubmission(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

func (m *Memory) ListSubmissions(_ context.Context, tenantID string, f model.SubmissionFilter) ([]model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sortedSubmissions(func(s model.Submission) bool {
		return s.TenantID == tenantID &&
			(f.Kind == "" || s.Kind == f.Kind) &&
			(f.Status == "" || s.Status == f.Status) &&
			(f.Period == "" || s.Period == f.Period)
	})
	return page(out, listLimit(f.Limit), f.Offset), nil
}

func (m *Memory) ListOpenSubmissions(_ context.Context, since time.Time) ([]model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sortedSubmissions(func(s model.Submission) bool {
		return !s.Status.Terminal() && !s.SubmittedAt.Before(since)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *Memory) CountOpenSubmissions(_ context.Context, tenantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.submissions {
		if s.TenantID == tenantID && !s.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpsertMessage(_ context.Context, msg *model.InboundMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.messageIDs[msg.ExternalMessageID]; ok {
		msg.ID = id
		return false, nil
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	m.messages[msg.ID] = *msg
	m.messageIDs[msg.ExternalMessageID] = msg.ID
	return true, nil
}

func (m *Memory) ListMessages(_ context.Context, tenantID string, limit, offset int) ([]model.InboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.InboundMessage
	for _, msg := range m.messages {
		if msg.TenantID == tenantID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ExternalMessageID > out[j].ExternalMessageID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return page(out, listLimit(limit), offset), nil
}

func (m *Memory) CountMessages(_ context.Context, tenantID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, unread := 0, 0
	for _, msg := range m.messages {
		if msg.TenantID != tenantID {
			continue
		}
		total++
		if msg.Status == model.MessageUnread {
			unread++
		}
	}
	return total, unread, nil
}

func (m *Memory) MarkMessageRead(_ context.Context, tenantID string, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.TenantID != tenantID {
		return errs.ErrNotFound
	}
	if msg.Status != model.MessageRead {
		msg.Status = model.MessageRead
		msg.ReadAt = &at
		m.messages[id] = msg
	}
	return nil
}

func reportKey(tenantID, period string) string { return tenantID + "/" + period }

func (m *Memory) GetReport(_ context.Context, tenantID, period string) (*model.ComplianceReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[reportKey(tenantID, period)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) SaveReport(_ context.Context, report *model.ComplianceReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[reportKey(report.TenantID, report.Period)] = *report
	return nil
}

func (m *Memory) ListReports(_ context.Context, tenantID string, year int) ([]model.ComplianceReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := fmt.Sprintf("%04d-", year)
	var out []model.ComplianceReport
	for _, r := range m.reports {
		if r.TenantID == tenantID && strings.HasPrefix(r.Period, prefix) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	return out, nil
}

// SetLedger replaces the ledger of a tenant. Ledger filters invoices,
// payments and movements by date.
func (m *Memory) SetLedger(tenantID string, l *model.Ledger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[tenantID] = l
}

func (m *Memory) Ledger(_ context.Context, tenantID string, from, to time.Time) (*model.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.ledgers[tenantID]
	out := &model.Ledger{}
	if !ok {
		return out, nil
	}
	if src.Company != nil {
		c := *src.Company
		out.Company = &c
	}
	in := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }
	for _, inv := range src.Sales {
		if in(inv.IssueDate) {
			out.Sales = append(out.Sales, inv)
		}
	}
	for _, inv := range src.Purchases {
		if in(inv.IssueDate) {
			out.Purchases = append(out.Purchases, inv)
		}
	}
	for _, p := range src.Payments {
		if in(p.Date) {
			out.Payments = append(out.Payments, p)
		}
	}
	for _, mv := range src.Movements {
		if in(mv.StartDate) {
			out.Movements = append(out.Movements, mv)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
