package scangate

import "time"

// ForecastStatus distinguishes a usable projection from one that must not
// drive alerting.
type ForecastStatus string

const (
	ForecastOK ForecastStatus = "ok"
	// ForecastInsufficient means fewer than two daily samples exist.
	// Returned instead of a fabricated number so downstream alerting
	// cannot fire on zero-history forecasts.
	ForecastInsufficient ForecastStatus = "insufficient_data"
)

// RiskLevel classifies projected quota depletion against the cycle end.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Forecast projects when a tenant will exhaust its quota at the current
// burn rate.
type Forecast struct {
	Status        ForecastStatus `json:"status"`
	DailyBurnRate float64        `json:"daily_burn_rate"`

	// DaysUntilDepletion is nil when the burn rate is zero or the forecast
	// has insufficient data.
	DaysUntilDepletion *float64   `json:"days_until_depletion"`
	DepletionDate      *time.Time `json:"depletion_date,omitempty"`
	Risk               RiskLevel  `json:"risk_level"`
}

// ForecastOptions tunes the burn-rate projection.
type ForecastOptions struct {
	// WindowDays is the number of most recent daily samples averaged for
	// the burn rate. Zero means DefaultForecastWindowDays.
	WindowDays int

	// CycleBuffer is the trailing fraction of the cycle length used for the
	// medium-risk band after cycle end. Zero means DefaultCycleBuffer.
	CycleBuffer float64
}

const (
	DefaultForecastWindowDays = 7
	DefaultCycleBuffer        = 0.20
)

// ForecastDepletion computes a burn-rate projection from a tenant's daily
// usage samples and quota status. Pure: no clocks or stores are touched
// beyond the now argument.
//
// The burn rate is the mean over the last WindowDays complete calendar days
// ending yesterday, clipped to the earliest sample inside that window. Days
// without a sample count as zero usage, so a tenant idle for part of the
// window is not forecast as if every day burned. With fewer than two samples
// the forecast is ForecastInsufficient. A zero burn rate yields no depletion
// date and low risk. Otherwise risk is high when the projected depletion
// falls before cycle end, medium when it lands within the buffer window
// after cycle end, and low beyond that.
func ForecastDepletion(samples []UsageSample, status QuotaStatus, now time.Time, opts ForecastOptions) Forecast {
	window := opts.WindowDays
	if window <= 0 {
		window = DefaultForecastWindowDays
	}
	buffer := opts.CycleBuffer
	if buffer <= 0 {
		buffer = DefaultCycleBuffer
	}

	if len(samples) < 2 {
		return Forecast{Status: ForecastInsufficient, Risk: RiskLow}
	}

	windowEnd := Day(now).AddDate(0, 0, -1)
	windowStart := windowEnd.AddDate(0, 0, 1-window)

	var (
		total    float64
		earliest time.Time
	)
	for _, s := range samples {
		d := Day(s.Date)
		if d.Before(windowStart) || d.After(windowEnd) {
			continue
		}
		total += s.Units
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}

	var rate float64
	if !earliest.IsZero() {
		span := int(windowEnd.Sub(earliest).Hours())/24 + 1
		rate = total / float64(span)
	}

	if rate <= 0 {
		return Forecast{Status: ForecastOK, Risk: RiskLow}
	}

	days := status.Remaining / rate
	depletion := now.Add(time.Duration(days * float64(24*time.Hour)))

	risk := RiskLow
	cycleLen := status.CycleEnd.Sub(status.CycleStart)
	bufferEnd := status.CycleEnd.Add(time.Duration(buffer * float64(cycleLen)))
	switch {
	case depletion.Before(status.CycleEnd):
		risk = RiskHigh
	case depletion.Before(bufferEnd):
		risk = RiskMedium
	}

	return Forecast{
		Status:             ForecastOK,
		DailyBurnRate:      rate,
		DaysUntilDepletion: &days,
		DepletionDate:      &depletion,
		Risk:               risk,
	}
}
