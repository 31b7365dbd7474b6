package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/saft"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

// GenerationResult is a rendered D406 document with its validation.
// XML is nil when the document could not be built.
type GenerationResult struct {
	Period      string                `json:"period"`
	TaxID       string                `json:"tax_id,omitempty"`
	XML         []byte                `json:"-"`
	Hash        string                `json:"hash,omitempty"`
	Size        int64                 `json:"size"`
	Validation  saft.ValidationResult `json:"validation"`
	Summary     saft.Summary          `json:"summary"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Compliance ties the ledger, the document builder and the tracker together
// for the monthly declaration.
type Compliance struct {
	ledger   store.LedgerReader
	reports  store.ReportStore
	subs     store.SubmissionStore
	tokens   *TokenManager
	tracker  *Tracker
	inbox    *Inbox
	clock    clock.Clock
	events   notify.Publisher
	software saft.Software

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompliance(ledger store.LedgerReader, reports store.ReportStore, subs store.SubmissionStore, tokens *TokenManager, tracker *Tracker, inbox *Inbox, clk clock.Clock, events notify.Publisher) (*Compliance, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if events == nil {
		events = notify.LogPublisher{}
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Compliance{
		ledger:   ledger,
		reports:  reports,
		subs:     subs,
		tokens:   tokens,
		tracker:  tracker,
		inbox:    inbox,
		clock:    clk,
		events:   events,
		software: saft.DefaultSoftware,
		encoder:  enc,
		decoder:  dec,
	}, nil
}

// Generate renders the period's declaration and stores it as the draft
// report. It never fails: problems are reported as validation errors.
func (c *Compliance) Generate(ctx context.Context, tenantID, period string) *GenerationResult {
	res := c.generate(ctx, tenantID, period)
	if res.XML != nil {
		if err := c.saveDraft(ctx, tenantID, res); err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Str("period", period).Msg("Failed to store report")
			res.Validation.AddError(saft.CodeInternal, "report", "failed to store report: "+err.Error())
		}
	}
	return res
}

// Preview renders without storing anything.
func (c *Compliance) Preview(ctx context.Context, tenantID, period string) *GenerationResult {
	return c.generate(ctx, tenantID, period)
}

// Validate checks the period's ledger and rendered document.
func (c *Compliance) Validate(ctx context.Context, tenantID, period string) saft.ValidationResult {
	return c.generate(ctx, tenantID, period).Validation
}

func (c *Compliance) generate(ctx context.Context, tenantID, period string) *GenerationResult {
	now := c.clock.Now()
	res := &GenerationResult{
		Period:      period,
		GeneratedAt: now,
		Validation:  saft.ValidationResult{Valid: true, Errors: []saft.Issue{}, Warnings: []saft.Issue{}},
	}

	p, err := saft.ParsePeriod(period)
	if err != nil {
		res.Validation.AddError(saft.CodePeriodMalformed, "period", err.Error())
		return res
	}
	ledger, err := c.ledger.Ledger(ctx, tenantID, p.Start, p.Next().Start)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Str("period", period).Msg("Failed to read ledger")
		res.Validation.AddError(saft.CodeInternal, "ledger", "failed to read ledger: "+err.Error())
		return res
	}

	res.Validation = saft.Validate(saft.ValidationInput{
		Company:   ledger.Company,
		Period:    p,
		Sales:     ledger.Sales,
		Purchases: ledger.Purchases,
		Movements: ledger.Movements,
		Now:       now,
	})
	res.Summary = res.Validation.Summary
	if ledger.Company == nil {
		return res
	}
	res.TaxID = saft.NormalizeTaxID(ledger.Company.TaxID)

	rendered, err := saft.Render(saft.Input{
		Company:   *ledger.Company,
		Period:    p,
		Sales:     ledger.Sales,
		Purchases: ledger.Purchases,
		Payments:  ledger.Payments,
		CreatedAt: now,
		Software:  c.software,
	})
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Str("period", period).Msg("Failed to render audit file")
		res.Validation.AddError(saft.CodeInternal, "document", "failed to render document: "+err.Error())
		return res
	}
	res.XML = rendered.XML
	res.Hash = rendered.Hash
	res.Size = rendered.Size
	res.Summary = rendered.Summary

	if err := saft.CheckSize(rendered.Size); err != nil {
		res.Validation.AddError(saft.CodeOversize, "document", err.Error())
	}
	res.Validation.Merge(saft.CheckDocument(rendered.XML))
	res.Validation.Summary = res.Summary
	return res
}

// saveDraft archives the document. Reports already submitted or accepted
// keep the document that was sent.
func (c *Compliance) saveDraft(ctx context.Context, tenantID string, res *GenerationResult) error {
	report, err := c.reports.GetReport(ctx, tenantID, res.Period)
	if err != nil {
		return err
	}
	if report == nil {
		report = &model.ComplianceReport{
			TenantID:   tenantID,
			Period:     res.Period,
			ReportType: model.ReportTypeD406Monthly,
			Status:     model.ReportDraft,
		}
	}
	if report.Status == model.ReportSubmitted || report.Status == model.ReportAccepted {
		log.Info().Str("tenant_id", tenantID).Str("period", res.Period).Str("status", string(report.Status)).
			Msg("Report already submitted, keeping stored document")
		return nil
	}
	report.DocumentHash = res.Hash
	report.DocumentSize = res.Size
	report.Archive = c.encoder.EncodeAll(res.XML, make([]byte, 0, len(res.XML)/4))
	report.GeneratedAt = res.GeneratedAt
	report.UpdatedAt = res.GeneratedAt
	return c.reports.SaveReport(ctx, report)
}

// ReportDocument returns the archived XML of a period's report.
func (c *Compliance) ReportDocument(ctx context.Context, tenantID, period string) ([]byte, error) {
	report, err := c.reports.GetReport(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}
	if report == nil || len(report.Archive) == 0 {
		return nil, fmt.Errorf("report %s: %w", period, errs.ErrNotFound)
	}
	data, err := c.decoder.DecodeAll(report.Archive, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress report %s: %w", period, err)
	}
	return data, nil
}

// SubmitAuditFile generates and uploads the period's declaration. Documents
// with blocking errors or above the size ceiling never reach the network,
// and neither do periods whose declaration is in flight or accepted.
func (c *Compliance) SubmitAuditFile(ctx context.Context, tenantID, period string) (*model.Submission, error) {
	existing, err := c.reports.GetReport(ctx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", period, err)
	}
	if existing != nil && (existing.Status == model.ReportSubmitted || existing.Status == model.ReportAccepted) {
		return nil, fmt.Errorf("%w: report %s is %s", errs.ErrNotRetryable, period, existing.Status)
	}

	gen := c.Generate(ctx, tenantID, period)
	for _, code := range gen.Validation.ErrorCodes() {
		if code == saft.CodeOversize {
			return nil, fmt.Errorf("audit file %s: %w", period, errs.ErrOversizeDocument)
		}
	}
	if !gen.Validation.Valid {
		return nil, &errs.ValidationFailedError{Codes: gen.Validation.ErrorCodes()}
	}

	sub, err := c.tracker.Submit(ctx, tenantID, model.KindAuditFileUpload, gen.XML, SubmitMeta{TaxID: gen.TaxID, Period: period})
	if err != nil {
		return nil, err
	}

	report, err := c.reports.GetReport(ctx, tenantID, period)
	if err != nil {
		return sub, fmt.Errorf("load report %s: %w", period, err)
	}
	if report == nil {
		report = &model.ComplianceReport{TenantID: tenantID, Period: period, ReportType: model.ReportTypeD406Monthly}
	}
	previous := report.Status
	now := c.clock.Now()
	report.Status = model.ReportSubmitted
	report.ExternalReference = sub.ExternalReference
	report.DocumentHash = gen.Hash
	report.DocumentSize = gen.Size
	report.Archive = c.encoder.EncodeAll(gen.XML, make([]byte, 0, len(gen.XML)/4))
	report.GeneratedAt = gen.GeneratedAt
	report.SubmittedAt = &now
	report.UpdatedAt = now
	if err := c.reports.SaveReport(ctx, report); err != nil {
		return sub, fmt.Errorf("save report %s: %w", period, err)
	}

	err = c.events.Publish(ctx, notify.Event{
		Type:              notify.EventReportStatus,
		TenantID:          tenantID,
		Period:            period,
		ExternalReference: sub.ExternalReference,
		Status:            string(report.Status),
		PreviousStatus:    string(previous),
		OccurredAt:        now,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to publish report event")
	}
	return sub, nil
}

// SubmitInvoice uploads a UBL e-invoice.
func (c *Compliance) SubmitInvoice(ctx context.Context, tenantID, taxID string, document []byte) (*model.Submission, error) {
	return c.tracker.Submit(ctx, tenantID, model.KindInvoiceSend, document, SubmitMeta{TaxID: taxID})
}

func (c *Compliance) CheckStatus(ctx context.Context, tenantID, externalReference string) (*StatusResult, error) {
	return c.tracker.CheckStatus(ctx, tenantID, externalReference)
}

func (c *Compliance) Reports(ctx context.Context, tenantID string, year int) ([]model.ComplianceReport, error) {
	return c.reports.ListReports(ctx, tenantID, year)
}
