package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/fiscal-compliance-service/internal/anaf"
	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/saft"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

// SubmitMeta describes the uploaded document. Period is required for audit
// files.
type SubmitMeta struct {
	TaxID  string
	Period string
}

// StatusResult is the outcome of a status check.
type StatusResult struct {
	Submission      *model.Submission      `json:"submission"`
	Status          model.SubmissionStatus `json:"status"`
	AuthorityStatus string                 `json:"authority_status,omitempty"`
	DownloadID      string                 `json:"download_id,omitempty"`
	Errors          []string               `json:"errors,omitempty"`
	// Known is false when the authority answered with a state missing from
	// the lookup table.
	Known   bool `json:"known"`
	Changed bool `json:"changed"`
}

// Tracker uploads documents and follows them until the authority settles
// on an outcome.
type Tracker struct {
	subs      store.SubmissionStore
	reports   store.ReportStore
	tokens    TokenSource
	authority Authority
	clock     clock.Clock
	events    notify.Publisher
}

func NewTracker(subs store.SubmissionStore, reports store.ReportStore, tokens TokenSource, authority Authority, clk clock.Clock, events notify.Publisher) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if events == nil {
		events = notify.LogPublisher{}
	}
	return &Tracker{subs: subs, reports: reports, tokens: tokens, authority: authority, clock: clk, events: events}
}

// Submit uploads payload and records a pending submission keyed by the
// authority's upload index. A rejected upload persists nothing.
func (t *Tracker) Submit(ctx context.Context, tenantID string, kind model.SubmissionKind, payload []byte, meta SubmitMeta) (*model.Submission, error) {
	taxID := saft.NormalizeTaxID(meta.TaxID)
	if taxID == "" {
		return nil, fmt.Errorf("%w: tax id is required", errs.ErrInvalidInput)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty document", errs.ErrInvalidInput)
	}
	size := int64(len(payload))
	switch kind {
	case model.KindAuditFileUpload:
		if _, err := saft.ParsePeriod(meta.Period); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
		if err := saft.CheckSize(size); err != nil {
			return nil, err
		}
	case model.KindInvoiceSend:
	default:
		return nil, fmt.Errorf("%w: unknown submission kind %q", errs.ErrInvalidInput, kind)
	}

	token, err := t.tokens.GetValidToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var res *anaf.UploadResult
	if kind == model.KindAuditFileUpload {
		res, err = t.authority.UploadAuditFile(ctx, token, taxID, meta.Period, payload)
	} else {
		res, err = t.authority.UploadInvoice(ctx, token, taxID, payload)
	}
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Str("kind", string(kind)).Msg("Upload failed")
		return nil, err
	}

	sub := &model.Submission{
		TenantID:          tenantID,
		TaxID:             taxID,
		Kind:              kind,
		ExternalReference: res.UploadIndex,
		Period:            meta.Period,
		DocumentHash:      saft.Hash(payload),
		DocumentSize:      size,
		Status:            model.SubmissionPending,
		Errors:            []string{},
		SubmittedAt:       t.clock.Now(),
	}
	if err := t.subs.CreateSubmission(ctx, sub); err != nil {
		// The authority already holds the document; the index must not be lost.
		log.Error().Err(err).Str("tenant_id", tenantID).Str("external_reference", res.UploadIndex).Msg("Failed to record submission")
		monitoring.Alert("Uploaded document was not recorded", map[string]string{"tenant_id": tenantID, "external_reference": res.UploadIndex})
		return nil, fmt.Errorf("record submission %s: %w", res.UploadIndex, err)
	}

	monitoring.SubmissionStatus.WithLabelValues(string(kind), string(sub.Status)).Inc()
	log.Info().
		Str("tenant_id", tenantID).
		Str("submission_id", sub.ID.String()).
		Str("external_reference", sub.ExternalReference).
		Str("kind", string(kind)).
		Msg("Document submitted")
	t.publish(ctx, notify.EventSubmissionCreated, sub, "")
	return sub, nil
}

// CheckStatus asks the authority about a submission and applies the mapped
// status. Transitions only move forward; settled submissions are returned
// as stored without a network call.
func (t *Tracker) CheckStatus(ctx context.Context, tenantID, externalReference string) (*StatusResult, error) {
	sub, err := t.subs.GetSubmissionByReference(ctx, tenantID, externalReference)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", externalReference, errs.ErrNotFound)
	}
	if sub.Status.Terminal() {
		return resultOf(sub, true, false), nil
	}
	return t.check(ctx, sub)
}

func (t *Tracker) check(ctx context.Context, sub *model.Submission) (*StatusResult, error) {
	token, err := t.tokens.GetValidToken(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}
	resp, err := t.authority.Status(ctx, token, sub.ExternalReference)
	if err != nil {
		return nil, err
	}
	mapped := anaf.MapStatus(resp)

	now := t.clock.Now()
	previous := sub.Status
	sub.LastCheckedAt = &now
	if resp.Stare != "" {
		sub.AuthorityStatus = resp.Stare
	}
	if resp.DownloadID != "" {
		sub.DownloadID = resp.DownloadID
	}

	changed := false
	if mapped.Status != previous && previous.CanTransition(mapped.Status) {
		sub.Status = mapped.Status
		changed = true
		if sub.Status.Terminal() {
			sub.CompletedAt = &now
		}
		if sub.Status == model.SubmissionRejected || sub.Status == model.SubmissionError {
			sub.Errors = append([]string{}, resp.Errors...)
		}
	}
	if err := t.subs.UpdateSubmission(ctx, sub, previous); err != nil {
		if !errors.Is(err, errs.ErrStale) {
			return nil, fmt.Errorf("update submission %s: %w", sub.ExternalReference, err)
		}
		// Another check settled it first; report what is stored.
		log.Debug().Str("submission_id", sub.ID.String()).Msg("Submission changed during status check")
		current, err := t.subs.GetSubmission(ctx, sub.TenantID, sub.ID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("submission %s: %w", sub.ExternalReference, errs.ErrNotFound)
		}
		return resultOf(current, mapped.Known, false), nil
	}

	if changed {
		monitoring.SubmissionStatus.WithLabelValues(string(sub.Kind), string(sub.Status)).Inc()
		log.Info().
			Str("tenant_id", sub.TenantID).
			Str("submission_id", sub.ID.String()).
			Str("from", string(previous)).
			Str("to", string(sub.Status)).
			Msg("Submission status changed")
		t.publish(ctx, notify.EventSubmissionStatus, sub, previous)
		if sub.Kind == model.KindAuditFileUpload && sub.Status.Terminal() {
			t.settleReport(ctx, sub)
		}
	}

	res := resultOf(sub, mapped.Known, changed)
	res.Errors = resp.Errors
	return res, nil
}

func resultOf(sub *model.Submission, known, changed bool) *StatusResult {
	return &StatusResult{
		Submission:      sub,
		Status:          sub.Status,
		AuthorityStatus: sub.AuthorityStatus,
		DownloadID:      sub.DownloadID,
		Errors:          sub.Errors,
		Known:           known,
		Changed:         changed,
	}
}

// settleReport moves the period's report out of submitted when its upload
// reaches an outcome. Reports tied to another upload are left alone.
func (t *Tracker) settleReport(ctx context.Context, sub *model.Submission) {
	report, err := t.reports.GetReport(ctx, sub.TenantID, sub.Period)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", sub.TenantID).Str("period", sub.Period).Msg("Failed to load report")
		return
	}
	if report == nil || report.ExternalReference != sub.ExternalReference || report.Status != model.ReportSubmitted {
		return
	}
	previous := report.Status
	if sub.Status == model.SubmissionAccepted {
		report.Status = model.ReportAccepted
	} else {
		report.Status = model.ReportRejected
	}
	report.UpdatedAt = t.clock.Now()
	if err := t.reports.SaveReport(ctx, report); err != nil {
		log.Error().Err(err).Str("tenant_id", sub.TenantID).Str("period", sub.Period).Msg("Failed to update report status")
		return
	}
	err = t.events.Publish(ctx, notify.Event{
		Type:              notify.EventReportStatus,
		TenantID:          report.TenantID,
		Period:            report.Period,
		ExternalReference: report.ExternalReference,
		Status:            string(report.Status),
		PreviousStatus:    string(previous),
		OccurredAt:        report.UpdatedAt,
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", sub.TenantID).Msg("Failed to publish report event")
	}
}

// Retry puts an errored or rejected submission back to pending so the
// reconciliation picks it up again.
func (t *Tracker) Retry(ctx context.Context, tenantID string, id uuid.UUID) (*model.Submission, error) {
	sub, err := t.subs.GetSubmission(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", id, errs.ErrNotFound)
	}
	if !sub.Status.Retryable() {
		return nil, fmt.Errorf("%w: status is %s", errs.ErrNotRetryable, sub.Status)
	}
	previous := sub.Status
	sub.Status = model.SubmissionPending
	sub.RetryCount++
	sub.Errors = []string{}
	sub.CompletedAt = nil
	if err := t.subs.UpdateSubmission(ctx, sub, previous); err != nil {
		if errors.Is(err, errs.ErrStale) {
			return nil, fmt.Errorf("%w: submission %s was retried concurrently", errs.ErrNotRetryable, id)
		}
		return nil, err
	}
	monitoring.SubmissionStatus.WithLabelValues(string(sub.Kind), string(sub.Status)).Inc()
	log.Info().Str("tenant_id", tenantID).Str("submission_id", id.String()).Int("retry_count", sub.RetryCount).Msg("Submission queued for retry")
	t.publish(ctx, notify.EventSubmissionStatus, sub, previous)
	return sub, nil
}

func (t *Tracker) ListSubmissions(ctx context.Context, tenantID string, filter model.SubmissionFilter) ([]model.Submission, error) {
	return t.subs.ListSubmissions(ctx, tenantID, filter)
}

// OpenSubmissions lists pending and processing submissions of every tenant
// submitted within window.
func (t *Tracker) OpenSubmissions(ctx context.Context, window time.Duration) ([]model.Submission, error) {
	return t.subs.ListOpenSubmissions(ctx, t.clock.Now().Add(-window))
}

// Reconcile checks one open submission listed by OpenSubmissions. The
// listed copy may be stale, so the stored record is read again first.
func (t *Tracker) Reconcile(ctx context.Context, listed model.Submission) (*StatusResult, error) {
	sub, err := t.subs.GetSubmission(ctx, listed.TenantID, listed.ID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", listed.ExternalReference, errs.ErrNotFound)
	}
	if sub.Status.Terminal() {
		return resultOf(sub, true, false), nil
	}
	return t.check(ctx, sub)
}

func (t *Tracker) publish(ctx context.Context, typ notify.EventType, sub *model.Submission, previous model.SubmissionStatus) {
	err := t.events.Publish(ctx, notify.Event{
		Type:              typ,
		TenantID:          sub.TenantID,
		SubmissionID:      sub.ID.String(),
		ExternalReference: sub.ExternalReference,
		Period:            sub.Period,
		Status:            string(sub.Status),
		PreviousStatus:    string(previous),
		OccurredAt:        t.clock.Now(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("tenant_id", sub.TenantID).Msg("Failed to publish submission event")
	}
}
