// Package sched runs the engine's background jobs: monthly cycle resets at
// their boundaries and periodic burn-rate forecast evaluation.
package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clinicware/scangate"
	"github.com/clinicware/scangate/alert"
)

// Scheduler drives cycle resets and forecast re-evaluation on a cron.
type Scheduler struct {
	ledger   scangate.Ledger
	lister   scangate.Lister
	recorder scangate.UsageRecorder
	alerts   *alert.Manager
	forecast scangate.ForecastOptions
	logger   *slog.Logger
	now      func() time.Time

	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder enables forecast evaluation from the given usage log.
func WithRecorder(r scangate.UsageRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithAlerts routes reset and forecast findings into the alert manager.
func WithAlerts(a *alert.Manager) Option {
	return func(s *Scheduler) { s.alerts = a }
}

// WithForecastOptions tunes the burn-rate projection.
func WithForecastOptions(opts scangate.ForecastOptions) Option {
	return func(s *Scheduler) { s.forecast = opts }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler over a ledger that can enumerate its accounts.
func New(ledger scangate.Ledger, lister scangate.Lister, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger: ledger,
		lister: lister,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the cron entries and begins running them. Cycle
// boundaries are checked every minute; forecasts re-evaluate hourly.
func (s *Scheduler) Start() error {
	c := cron.New()

	if _, err := c.AddFunc("* * * * *", func() { s.CheckCycles(context.Background()) }); err != nil {
		return err
	}
	if s.recorder != nil && s.alerts != nil {
		if _, err := c.AddFunc("@hourly", func() { s.EvaluateForecasts(context.Background()) }); err != nil {
			return err
		}
	}

	c.Start()
	s.cron = c
	return nil
}

// Stop halts the cron and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// CheckCycles resets every account whose cycle boundary has passed. The
// reset is idempotent, so a raced double invocation is harmless.
func (s *Scheduler) CheckCycles(ctx context.Context) {
	accounts, err := s.lister.Accounts(ctx)
	if err != nil {
		s.logger.Error("cycle check: list accounts", "error", err)
		return
	}

	now := s.now()
	for _, acct := range accounts {
		if acct.CycleEnd.After(now) {
			continue
		}

		if err := s.ledger.ResetCycle(ctx, acct.TenantID, acct.CycleEnd); err != nil {
			s.logger.Error("cycle reset failed", "tenant", acct.TenantID, "error", err)
			continue
		}

		archived := 0
		if s.alerts != nil {
			archived = s.alerts.ArchiveCycle(ctx, acct.TenantID)
		}
		s.logger.Info("cycle reset",
			"tenant", acct.TenantID,
			"boundary", acct.CycleEnd,
			"alerts_archived", archived,
		)
	}
}

// EvaluateForecasts recomputes each tenant's burn-rate projection and feeds
// it to the alert manager.
func (s *Scheduler) EvaluateForecasts(ctx context.Context) {
	if s.recorder == nil || s.alerts == nil {
		return
	}

	accounts, err := s.lister.Accounts(ctx)
	if err != nil {
		s.logger.Error("forecast sweep: list accounts", "error", err)
		return
	}

	now := s.now()
	for _, acct := range accounts {
		samples, err := s.recorder.Samples(ctx, acct.TenantID, acct.CycleStart, now)
		if err != nil {
			s.logger.Error("forecast sweep: samples", "tenant", acct.TenantID, "error", err)
			continue
		}

		fc := scangate.ForecastDepletion(samples, acct, now, s.forecast)
		s.alerts.EvaluateForecast(ctx, acct.TenantID, fc)

		if fc.Status == scangate.ForecastOK && fc.Risk != scangate.RiskLow {
			s.logger.Warn("burn-rate risk",
				"tenant", acct.TenantID,
				"risk", string(fc.Risk),
				"daily_burn_rate", fc.DailyBurnRate,
			)
		}
	}
}
