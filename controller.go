package scangate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInferenceTimeout bounds the external inference call. It is the
// dominant latency budget and deliberately generous relative to the
// ledger/cache path.
const DefaultInferenceTimeout = 30 * time.Second

// AlertSink receives quota and forecast state for threshold evaluation.
// Evaluation after a debit runs asynchronously off the request path.
type AlertSink interface {
	Evaluate(ctx context.Context, status QuotaStatus)
	EvaluateForecast(ctx context.Context, tenantID string, fc Forecast)
}

// Controller is the admission decision point for scan requests. Every
// request passes fingerprint resolution, a cache probe, and an atomic quota
// debit before the external inference call runs; a failed or abandoned call
// is credited back exactly.
type Controller struct {
	ledger   Ledger
	cache    ResultCache
	provider Provider
	recorder UsageRecorder
	alerts   AlertSink
	meter    Meter

	window       time.Duration
	cacheTTL     time.Duration
	inferTimeout time.Duration
	failOpen     bool
	now          func() time.Time

	// pending tracks in-flight async alert evaluations so tests and
	// shutdown can wait for them.
	pending sync.WaitGroup
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithCache sets the result cache. Without one, every request is a miss.
func WithCache(c ResultCache) ControllerOption {
	return func(ctrl *Controller) { ctrl.cache = c }
}

// WithRecorder sets the usage recorder.
func WithRecorder(r UsageRecorder) ControllerOption {
	return func(ctrl *Controller) { ctrl.recorder = r }
}

// WithAlerts sets the alert sink re-evaluated after each accepted debit.
func WithAlerts(a AlertSink) ControllerOption {
	return func(ctrl *Controller) { ctrl.alerts = a }
}

// WithMeter sets the meter.
func WithMeter(m Meter) ControllerOption {
	return func(ctrl *Controller) { ctrl.meter = m }
}

// WithFingerprintWindow sets the cache-key time bucket.
func WithFingerprintWindow(d time.Duration) ControllerOption {
	return func(ctrl *Controller) { ctrl.window = d }
}

// WithCacheTTL sets the TTL for stored cache entries.
func WithCacheTTL(d time.Duration) ControllerOption {
	return func(ctrl *Controller) { ctrl.cacheTTL = d }
}

// WithInferenceTimeout sets the timeout for the external inference call.
func WithInferenceTimeout(d time.Duration) ControllerOption {
	return func(ctrl *Controller) { ctrl.inferTimeout = d }
}

// WithFailOpen admits requests without a debit when the ledger backing
// store is unreachable. The default fails closed.
func WithFailOpen(enabled bool) ControllerOption {
	return func(ctrl *Controller) { ctrl.failOpen = enabled }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ControllerOption {
	return func(ctrl *Controller) { ctrl.now = now }
}

// NewController creates a Controller over a ledger and inference provider.
// The cache, recorder, alert sink and meter are optional.
func NewController(ledger Ledger, provider Provider, opts ...ControllerOption) (*Controller, error) {
	if ledger == nil {
		return nil, errors.New("scangate: a ledger is required")
	}
	if provider == nil {
		return nil, errors.New("scangate: an inference provider is required")
	}

	ctrl := &Controller{
		ledger:       ledger,
		provider:     provider,
		window:       DefaultFingerprintWindow,
		cacheTTL:     DefaultCacheTTL,
		inferTimeout: DefaultInferenceTimeout,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(ctrl)
	}

	if ctrl.meter == nil {
		ctrl.meter = noopMeter{}
	}

	return ctrl, nil
}

// Admit decides a scan request: serve from cache, debit and run inference,
// or deny. A denial returns a *QuotaError; inference and ledger faults
// return an *AdmissionError whose Refunded field reports whether the debit
// was credited back.
func (ctrl *Controller) Admit(ctx context.Context, req ScanRequest) (ScanDecision, error) {
	if req.TenantID == "" {
		return ScanDecision{}, ErrInvalidRequest
	}

	now := ctrl.now()
	cost := EstimateCost(req.Tier)

	fp, fpErr := ResolveFingerprint(req, ctrl.window, now)
	cacheable := fpErr == nil

	if cacheable && !req.ForceRescan && ctrl.cache != nil {
		// Cache errors are absorbed: the request proceeds as a miss and
		// loses savings, never correctness.
		if entry, ok, err := ctrl.cache.Lookup(ctx, fp); err == nil && ok {
			ctrl.meter.OnAdmit(AdmitEvent{
				TenantID: req.TenantID,
				Tier:     req.Tier,
				Outcome:  OutcomeCacheHit,
			})
			return ScanDecision{
				Allowed:         true,
				ServedFromCache: true,
				Result:          entry.Result,
				Remaining:       ctrl.remaining(ctx, req.TenantID),
			}, nil
		}
	}

	deb, err := ctrl.ledger.CheckAndDebit(ctx, req.TenantID, cost)
	debited := err == nil
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return ScanDecision{}, &AdmissionError{Err: err, TenantID: req.TenantID, Tier: req.Tier}
		}
		if !ctrl.failOpen {
			ctrl.meter.OnAdmit(AdmitEvent{TenantID: req.TenantID, Tier: req.Tier, Outcome: OutcomeDenied, Cost: cost})
			return ScanDecision{}, &AdmissionError{Err: ErrLedgerUnavailable, TenantID: req.TenantID, Tier: req.Tier}
		}
		// Fail-open: admit without a debit.
		deb = Debit{Accepted: true}
	}

	if !deb.Accepted {
		ctrl.meter.OnAdmit(AdmitEvent{
			TenantID:  req.TenantID,
			Tier:      req.Tier,
			Outcome:   OutcomeDenied,
			Cost:      cost,
			Remaining: deb.Remaining,
		})
		return ScanDecision{}, &QuotaError{
			TenantID:  req.TenantID,
			Remaining: deb.Remaining,
			ResetAt:   ctrl.cycleEnd(ctx, req.TenantID),
		}
	}

	ctrl.meter.OnAdmit(AdmitEvent{
		TenantID:    req.TenantID,
		Tier:        req.Tier,
		Outcome:     OutcomeAllowed,
		Cost:        cost,
		Remaining:   deb.Remaining,
		WillOverage: deb.WillOverage,
		CacheBypass: !cacheable || req.ForceRescan,
	})

	result, duration, err := ctrl.infer(ctx, req)
	if err != nil {
		// Compensating transaction: the tenant is not charged for a call
		// that produced no usable result. Detached context so a caller
		// cancellation cannot also cancel the credit. A fail-open admit
		// never debited, so there is nothing to credit back.
		refunded := false
		if debited {
			refunded = ctrl.ledger.Credit(context.WithoutCancel(ctx), req.TenantID, cost) == nil
		}
		ctrl.meter.OnResult(ResultEvent{
			TenantID: req.TenantID,
			Tier:     req.Tier,
			Provider: ctrl.provider.Name(),
			Success:  false,
			Duration: duration,
			Refunded: refunded,
			Error:    err,
		})
		return ScanDecision{}, &AdmissionError{
			Err:      err,
			TenantID: req.TenantID,
			Tier:     req.Tier,
			Provider: ctrl.provider.Name(),
			Refunded: refunded,
		}
	}

	if cacheable && ctrl.cache != nil {
		// First-writer-wins: a raced duplicate is discarded from the
		// cache but still returned to this caller.
		_, _ = ctrl.cache.Store(ctx, CacheEntry{
			Fingerprint: fp,
			TenantID:    req.TenantID,
			Result:      result,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ctrl.cacheTTL),
		})
	}

	if ctrl.recorder != nil {
		_ = ctrl.recorder.Record(ctx, UsageSample{
			TenantID: req.TenantID,
			Date:     Day(now),
			Units:    cost,
		})
	}

	ctrl.reevaluateAlerts(ctx, req.TenantID)

	return ScanDecision{
		Allowed:       true,
		Result:        result,
		Remaining:     deb.Remaining,
		EstimatedCost: cost,
		WillOverage:   deb.WillOverage,
	}, nil
}

// infer runs the provider call under its own timeout and maps provider and
// context errors into the admission taxonomy.
func (ctrl *Controller) infer(ctx context.Context, req ScanRequest) (ScanResult, time.Duration, error) {
	ictx, cancel := context.WithTimeout(ctx, ctrl.inferTimeout)
	defer cancel()

	start := time.Now()
	result, err := ctrl.provider.Analyze(ictx, AnalysisRequest{
		TenantID:    req.TenantID,
		SubjectID:   req.SubjectID,
		Tier:        req.Tier,
		InputDigest: req.InputDigest,
	})
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = ErrInferenceTimeout
		case errors.Is(err, context.Canceled):
			// Caller abandoned the request; from the ledger's
			// perspective this is a failure.
			err = ErrInferenceFailed
		default:
			err = errors.Join(ErrInferenceFailed, err)
		}
		return ScanResult{}, duration, err
	}

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.Tier == "" {
		result.Tier = req.Tier
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = ctrl.now()
	}

	ctrl.meter.OnResult(ResultEvent{
		TenantID: req.TenantID,
		Tier:     req.Tier,
		Provider: ctrl.provider.Name(),
		Success:  true,
		Duration: duration,
	})

	return result, duration, nil
}

// reevaluateAlerts kicks threshold evaluation off the request path.
func (ctrl *Controller) reevaluateAlerts(ctx context.Context, tenantID string) {
	if ctrl.alerts == nil {
		return
	}

	detached := context.WithoutCancel(ctx)
	ctrl.pending.Add(1)
	go func() {
		defer ctrl.pending.Done()
		status, err := ctrl.ledger.Status(detached, tenantID)
		if err != nil {
			return
		}
		ctrl.alerts.Evaluate(detached, status)
	}()
}

// Wait blocks until in-flight async alert evaluations finish. Used at
// shutdown and in tests.
func (ctrl *Controller) Wait() {
	ctrl.pending.Wait()
}

func (ctrl *Controller) remaining(ctx context.Context, tenantID string) float64 {
	status, err := ctrl.ledger.Status(ctx, tenantID)
	if err != nil {
		return 0
	}
	return status.Remaining
}

func (ctrl *Controller) cycleEnd(ctx context.Context, tenantID string) time.Time {
	status, err := ctrl.ledger.Status(ctx, tenantID)
	if err != nil {
		return time.Time{}
	}
	return status.CycleEnd
}
