package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
	"github.com/teresa-solution/fiscal-compliance-service/internal/notify"
	"github.com/teresa-solution/fiscal-compliance-service/internal/saft"
	"github.com/teresa-solution/fiscal-compliance-service/internal/store"
)

var ublInvoice = []byte(`<?xml version="1.0" encoding="UTF-8"?><Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"><ID>FCT-001</ID></Invoice>`)

func TestSubmitInvoiceAndReconcile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	assert.Equal(t, "5001", sub.ExternalReference)
	assert.Equal(t, model.SubmissionPending, sub.Status)
	assert.Equal(t, "12345674", sub.TaxID)
	assert.Equal(t, saft.Hash(ublInvoice), sub.DocumentHash)
	assert.Equal(t, int64(len(ublInvoice)), sub.DocumentSize)
	assert.Equal(t, testStart, sub.SubmittedAt)
	require.Len(t, env.authority.uploads, 1)
	assert.Equal(t, "UBL", env.authority.uploads[0].URL.Query().Get("standard"))
	assert.Equal(t, "12345674", env.authority.uploads[0].URL.Query().Get("cif"))

	res := env.scheduler.Reconcile(ctx)
	assert.Equal(t, SweepResult{Processed: 1}, res)
	stored, err := env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionProcessing, stored.Status)
	assert.Equal(t, "in prelucrare", stored.AuthorityStatus)
	assert.Nil(t, stored.CompletedAt)

	env.clock.Advance(15 * time.Minute)
	env.authority.setStatus("5001", `{"stare":"ok","id_descarcare":"9001"}`)
	res = env.scheduler.Reconcile(ctx)
	assert.Equal(t, SweepResult{Processed: 1}, res)

	stored, err = env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, stored.Status)
	assert.Equal(t, "9001", stored.DownloadID)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, env.clock.Now(), *stored.CompletedAt)

	// Settled submissions drop out of the sweep.
	res = env.scheduler.Reconcile(ctx)
	assert.Equal(t, SweepResult{}, res)

	statusEvents := env.events.OfType(notify.EventSubmissionStatus)
	require.Len(t, statusEvents, 2)
	assert.Equal(t, "processing", statusEvents[0].Status)
	assert.Equal(t, "accepted", statusEvents[1].Status)
	assert.Equal(t, "processing", statusEvents[1].PreviousStatus)
	assert.Len(t, env.events.OfType(notify.EventSubmissionCreated), 1)
}

func TestSubmitRejectedPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)
	env.authority.with(func(f *fakeAuthority) { f.uploadReject = true })

	_, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	var rejected *errs.AuthorityRejectedError
	require.True(t, errors.As(err, &rejected), "%v", err)
	assert.Equal(t, []string{"CIF invalid"}, rejected.Messages)

	subs, err := env.tracker.ListSubmissions(ctx, testTenant, model.SubmissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Empty(t, env.events.OfType(notify.EventSubmissionCreated))
}

func TestSubmitValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	tests := []struct {
		name    string
		kind    model.SubmissionKind
		payload []byte
		meta    SubmitMeta
	}{
		{name: "missing tax id", kind: model.KindInvoiceSend, payload: ublInvoice},
		{name: "empty document", kind: model.KindInvoiceSend, meta: SubmitMeta{TaxID: testTaxID}},
		{name: "unknown kind", kind: "fax", payload: ublInvoice, meta: SubmitMeta{TaxID: testTaxID}},
		{name: "audit file without period", kind: model.KindAuditFileUpload, payload: ublInvoice, meta: SubmitMeta{TaxID: testTaxID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.tracker.Submit(ctx, testTenant, tt.kind, tt.payload, tt.meta)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput), "%v", err)
		})
	}
	assert.Equal(t, 0, env.authority.uploadCount())
}

func TestSubmitWithoutConnection(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.compliance.SubmitInvoice(context.Background(), testTenant, testTaxID, ublInvoice)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))
	assert.Equal(t, 0, env.authority.uploadCount())
}

func TestCheckStatusIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)

	res, err := env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionProcessing, res.Status)
	assert.True(t, res.Known)
	assert.True(t, res.Changed)

	// An unlisted state never moves a submission backwards.
	env.authority.setStatus("5001", `{"stare":"in asteptare"}`)
	res, err = env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionProcessing, res.Status)
	assert.False(t, res.Known)
	assert.False(t, res.Changed)
	assert.Equal(t, "in asteptare", res.AuthorityStatus)

	env.authority.setStatus("5001", `{"stare":"nok","id_descarcare":"9002","Errors":[{"errorMessage":"E: valoare TVA gresita"}]}`)
	res, err = env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionRejected, res.Status)
	assert.Equal(t, []string{"E: valoare TVA gresita"}, res.Errors)

	calls := env.authority.statusCount()
	env.authority.setStatus("5001", `{"stare":"ok"}`)
	res, err = env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionRejected, res.Status, "terminal states stay put")
	assert.False(t, res.Changed)
	assert.Equal(t, calls, env.authority.statusCount(), "terminal submissions are not polled")

	stored, err := env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"E: valoare TVA gresita"}, stored.Errors)
}

func TestReconcileRereadsListedSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	open, err := env.tracker.OpenSubmissions(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, open, 1)

	env.authority.setStatus("5001", `{"stare":"ok"}`)
	res, err := env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	require.Equal(t, model.SubmissionAccepted, res.Status)

	env.authority.setStatus("5001", `{"stare":"in prelucrare"}`)
	calls := env.authority.statusCount()
	res, err = env.tracker.Reconcile(ctx, open[0])
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, res.Status)
	assert.False(t, res.Changed)
	assert.Equal(t, calls, env.authority.statusCount(), "settled submissions are not polled")

	stored, err := env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, stored.Status)
}

// settleBeforeUpdate lets another writer settle a submission between the
// tracker's read and its write.
type settleBeforeUpdate struct {
	*store.Memory
	settle func()
}

func (s *settleBeforeUpdate) UpdateSubmission(ctx context.Context, sub *model.Submission, from model.SubmissionStatus) error {
	if s.settle != nil {
		settle := s.settle
		s.settle = nil
		settle()
	}
	return s.Memory.UpdateSubmission(ctx, sub, from)
}

func TestCheckStatusKeepsConcurrentOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)

	racing := &settleBeforeUpdate{Memory: env.store}
	racing.settle = func() {
		done := *sub
		done.Status = model.SubmissionAccepted
		require.NoError(t, env.store.UpdateSubmission(ctx, &done, model.SubmissionPending))
	}
	tracker := NewTracker(racing, env.store, env.tokens, env.client, env.clock, env.events)

	res, err := tracker.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, res.Status)
	assert.False(t, res.Changed)

	stored, err := env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, stored.Status)
	assert.Empty(t, env.events.OfType(notify.EventSubmissionStatus))
}

func TestCheckStatusErrorsOnlyResponse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	env.authority.setStatus("5001", `{"Errors":[{"errorMessage":"Nu aveti dreptul de inteorgare"}]}`)

	res, err := env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionError, res.Status)
	assert.True(t, res.Submission.Status.Retryable())
}

func TestCheckStatusUnknownReference(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t, testTenant)

	_, err := env.compliance.CheckStatus(context.Background(), testTenant, "424242")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)

	_, err = env.tracker.Retry(ctx, testTenant, sub.ID)
	assert.True(t, errors.Is(err, errs.ErrNotRetryable), "pending is not retryable")

	env.authority.setStatus("5001", `{"stare":"nok","Errors":[{"errorMessage":"schema"}]}`)
	_, err = env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	require.NoError(t, err)

	retried, err := env.tracker.Retry(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.Errors)
	assert.Nil(t, retried.CompletedAt)

	env.authority.setStatus("5001", `{"stare":"ok"}`)
	res := env.scheduler.Reconcile(ctx)
	assert.Equal(t, SweepResult{Processed: 1}, res)
	stored, err := env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAccepted, stored.Status)

	_, err = env.tracker.Retry(ctx, testTenant, uuid.New())
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestReconcileWaitsOutRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	_, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	env.authority.with(func(f *fakeAuthority) {
		f.limitNextPoll = true
		f.status["5001"] = `{"stare":"ok"}`
	})

	res := env.scheduler.Reconcile(ctx)
	assert.Equal(t, SweepResult{Processed: 1}, res)
	assert.Equal(t, []time.Duration{2 * time.Second}, env.waits)
	assert.Equal(t, 2, env.authority.statusCount())

	subs, err := env.tracker.ListSubmissions(ctx, testTenant, model.SubmissionFilter{Status: model.SubmissionAccepted})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestCheckStatusSurfacesRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	env.authority.with(func(f *fakeAuthority) { f.limitNextPoll = true })

	_, err = env.compliance.CheckStatus(ctx, testTenant, sub.ExternalReference)
	delay, limited := errs.RetryAfter(err)
	require.True(t, limited, "%v", err)
	assert.Equal(t, 2*time.Second, delay)

	stored, err := env.store.GetSubmission(ctx, testTenant, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionPending, stored.Status)
	assert.Nil(t, stored.LastCheckedAt)
}

func TestReconcileSkipsOldSubmissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, testTenant)

	_, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	env.clock.Advance(8 * 24 * time.Hour)

	res := env.scheduler.Reconcile(ctx)
	assert.Equal(t, SweepResult{}, res)
	assert.Equal(t, 0, env.authority.statusCount())
}
