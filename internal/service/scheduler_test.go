package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

func TestRefreshTokensSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, "tenant-a")
	env.connect(t, "tenant-b")

	assert.Equal(t, SweepResult{}, env.scheduler.RefreshTokens(ctx), "nothing expires within the hour yet")

	env.clock.Advance(time.Minute)
	res := env.scheduler.RefreshTokens(ctx)
	assert.Equal(t, SweepResult{Processed: 2}, res)
	assert.Equal(t, 2, env.authority.refreshCount())

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		cred, err := env.store.GetCredential(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, model.CredentialActive, cred.Status)
		assert.Equal(t, env.clock.Now().Add(time.Hour), cred.ExpiresAt)
	}
}

func TestRefreshTokensSweepCountsFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, "tenant-a")
	env.clock.Advance(30 * time.Minute)
	env.authority.with(func(f *fakeAuthority) { f.refreshFail = true })

	res := env.scheduler.RefreshTokens(ctx)
	assert.Equal(t, SweepResult{Processed: 1, Failed: 1}, res)

	cred, err := env.store.GetCredential(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, model.CredentialExpired, cred.Status)

	// Expired credentials are no longer swept.
	assert.Equal(t, SweepResult{}, env.scheduler.RefreshTokens(ctx))
}

func TestSyncInboundSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, "tenant-a")
	env.authority.with(func(f *fakeAuthority) { f.messages = spvMessages })

	res := env.scheduler.SyncInbound(ctx)
	assert.Equal(t, SweepResult{Processed: 1}, res)

	page, err := env.inbox.ListMessages(ctx, "tenant-a", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestSchedulerRun(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.connect(t, testTenant)
	env.authority.with(func(f *fakeAuthority) { f.messages = spvMessages })

	sub, err := env.compliance.SubmitInvoice(ctx, testTenant, testTaxID, ublInvoice)
	require.NoError(t, err)
	env.authority.setStatus(sub.ExternalReference, `{"stare":"ok"}`)

	sched := NewScheduler(SchedulerConfig{
		TokenRefresh: time.Hour,
		Reconcile:    time.Minute,
		InboundSync:  time.Minute,
	}, env.tokens, env.tracker, env.inbox, env.clock)
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// Tickers created after an Advance only fire on the next one.
	require.Eventually(t, func() bool {
		env.clock.Advance(time.Minute)
		stored, err := env.store.GetSubmission(context.Background(), testTenant, sub.ID)
		if err != nil || stored.Status != model.SubmissionAccepted {
			return false
		}
		unread, err := env.inbox.UnreadCount(context.Background(), testTenant)
		return err == nil && unread == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
