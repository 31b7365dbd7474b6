package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
	"github.com/teresa-solution/fiscal-compliance-service/internal/errs"
	"github.com/teresa-solution/fiscal-compliance-service/internal/monitoring"
)

// Job names, also used as metric labels.
const (
	JobTokenRefresh = "token_refresh"
	JobReconcile    = "reconcile"
	JobInboundSync  = "inbound_sync"
)

// refreshHorizon selects credentials expiring within the next hour.
const refreshHorizon = time.Hour

type SchedulerConfig struct {
	TokenRefresh    time.Duration `yaml:"token_refresh"`
	Reconcile       time.Duration `yaml:"reconcile"`
	InboundSync     time.Duration `yaml:"inbound_sync"`
	ReconcileWindow time.Duration `yaml:"reconcile_window"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TokenRefresh:    time.Hour,
		Reconcile:       15 * time.Minute,
		InboundSync:     24 * time.Hour,
		ReconcileWindow: 7 * 24 * time.Hour,
	}
}

// SweepResult counts the units a job run handled.
type SweepResult struct {
	Processed int
	Failed    int
}

// Scheduler runs the three background jobs, each on its own ticker. Units
// are processed one at a time and a failing unit never stops the sweep.
type Scheduler struct {
	cfg     SchedulerConfig
	tokens  *TokenManager
	tracker *Tracker
	inbox   *Inbox
	clock   clock.Clock

	// wait blocks for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error
}

func NewScheduler(cfg SchedulerConfig, tokens *TokenManager, tracker *Tracker, inbox *Inbox, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = DefaultSchedulerConfig().ReconcileWindow
	}
	s := &Scheduler{cfg: cfg, tokens: tokens, tracker: tracker, inbox: inbox, clock: clk}
	s.wait = s.sleep
	return s
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, JobTokenRefresh, s.cfg.TokenRefresh, s.RefreshTokens) })
	g.Go(func() error { return s.loop(ctx, JobReconcile, s.cfg.Reconcile, s.Reconcile) })
	g.Go(func() error { return s.loop(ctx, JobInboundSync, s.cfg.InboundSync, s.SyncInbound) })
	log.Info().
		Dur("token_refresh", s.cfg.TokenRefresh).
		Dur("reconcile", s.cfg.Reconcile).
		Dur("inbound_sync", s.cfg.InboundSync).
		Msg("Scheduler started")
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, job func(context.Context) SweepResult) error {
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			monitoring.SchedulerRuns.WithLabelValues(name).Inc()
			res := job(ctx)
			log.Info().Str("job", name).Int("processed", res.Processed).Int("failed", res.Failed).Msg("Scheduled job finished")
		}
	}
}

// RefreshTokens renews credentials that expire within the next hour.
func (s *Scheduler) RefreshTokens(ctx context.Context) SweepResult {
	var res SweepResult
	creds, err := s.tokens.ExpiringCredentials(ctx, refreshHorizon)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list expiring credentials")
		return res
	}
	for _, cred := range creds {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		var ok bool
		err := s.withRetry(ctx, func() error {
			var err error
			ok, err = s.tokens.Refresh(ctx, cred.TenantID)
			return err
		})
		switch {
		case err != nil:
			res.Failed++
			log.Error().Err(err).Str("tenant_id", cred.TenantID).Msg("Token refresh errored")
		case !ok:
			res.Failed++
			log.Warn().Str("tenant_id", cred.TenantID).Msg("Token refresh failed, credential expired")
		}
	}
	return res
}

// Reconcile polls every open submission of the reconciliation window.
func (s *Scheduler) Reconcile(ctx context.Context) SweepResult {
	var res SweepResult
	subs, err := s.tracker.OpenSubmissions(ctx, s.cfg.ReconcileWindow)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list open submissions")
		return res
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		err := s.withRetry(ctx, func() error {
			_, err := s.tracker.Reconcile(ctx, sub)
			return err
		})
		if err != nil {
			res.Failed++
			log.Error().Err(err).
				Str("tenant_id", sub.TenantID).
				Str("submission_id", sub.ID.String()).
				Str("external_reference", sub.ExternalReference).
				Msg("Status check failed")
		}
	}
	return res
}

// SyncInbound pulls messages for every tenant with an active connection.
func (s *Scheduler) SyncInbound(ctx context.Context) SweepResult {
	var res SweepResult
	creds, err := s.tokens.ActiveCredentials(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active credentials")
		return res
	}
	for _, cred := range creds {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		err := s.withRetry(ctx, func() error {
			_, err := s.inbox.SyncMessages(ctx, cred.TenantID)
			return err
		})
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("tenant_id", cred.TenantID).Msg("Message sync failed")
		}
	}
	return res
}

// withRetry waits out a rate limit once and tries the unit again.
func (s *Scheduler) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	delay, limited := errs.RetryAfter(err)
	if !limited {
		return err
	}
	if err := s.wait(ctx, delay); err != nil {
		return err
	}
	return fn()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := s.clock.NewTicker(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
