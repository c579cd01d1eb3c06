package meter

import (
	"log/slog"

	"github.com/clinicware/scangate"
)

// LogMeter logs admission events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ scangate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmit(e scangate.AdmitEvent) {
	m.Logger.Info("admit",
		"tenant", e.TenantID,
		"tier", string(e.Tier),
		"outcome", string(e.Outcome),
		"cost", e.Cost,
		"remaining", e.Remaining,
		"will_overage", e.WillOverage,
		"cache_bypass", e.CacheBypass,
	)
}

func (m *LogMeter) OnResult(e scangate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"tenant", e.TenantID,
			"tier", string(e.Tier),
			"provider", e.Provider,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("result_error",
			"tenant", e.TenantID,
			"tier", string(e.Tier),
			"provider", e.Provider,
			"duration_ms", e.Duration.Milliseconds(),
			"refunded", e.Refunded,
			"error", e.Error,
		)
	}
}
