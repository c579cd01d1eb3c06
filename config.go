package scangate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Listen string `yaml:"listen"`

	Storage StorageConfig `yaml:"storage"`

	// FingerprintWindow bounds cache-key staleness. Zero means the default.
	FingerprintWindow time.Duration `yaml:"fingerprint_window"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	InferenceTimeout  time.Duration `yaml:"inference_timeout"`

	// FailOpen admits requests when the ledger is unreachable. The default
	// is fail-closed to avoid unbounded free usage.
	FailOpen bool `yaml:"fail_open"`

	ForecastWindowDays int `yaml:"forecast_window_days"`

	Provider ProviderConfig  `yaml:"provider"`
	Plans    []Plan          `yaml:"plans"`
	Tenants  []TenantAccount `yaml:"tenants"`
}

// StorageConfig selects the ledger and cache backends.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // memory, redis, postgres
	RedisURL    string `yaml:"redis_url"`
	PostgresURL string `yaml:"postgres_url"`
}

// ProviderConfig configures the external inference gateway.
type ProviderConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("scangate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("scangate: parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.FingerprintWindow <= 0 {
		c.FingerprintWindow = DefaultFingerprintWindow
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	if c.ForecastWindowDays <= 0 {
		c.ForecastWindowDays = DefaultForecastWindowDays
	}
	if len(c.Plans) == 0 {
		c.Plans = DefaultPlans()
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("scangate: config: storage.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("scangate: config: storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("scangate: config: unknown storage backend %q", c.Storage.Backend)
	}

	planIDs := make(map[string]bool, len(c.Plans))
	for i, p := range c.Plans {
		if p.ID == "" {
			return fmt.Errorf("scangate: config: plans[%d]: id is required", i)
		}
		if planIDs[p.ID] {
			return fmt.Errorf("scangate: config: duplicate plan id %q", p.ID)
		}
		planIDs[p.ID] = true
		if p.MonthlyQuota <= 0 {
			return fmt.Errorf("scangate: config: plans[%d] (%s): monthly_quota must be positive", i, p.ID)
		}
	}

	tenantIDs := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.TenantID == "" {
			return fmt.Errorf("scangate: config: tenants[%d]: id is required", i)
		}
		if tenantIDs[t.TenantID] {
			return fmt.Errorf("scangate: config: duplicate tenant id %q", t.TenantID)
		}
		tenantIDs[t.TenantID] = true

		if t.PlanTier != "" && !planIDs[t.PlanTier] {
			return fmt.Errorf("scangate: config: tenants[%d] (%s): unknown plan %q", i, t.TenantID, t.PlanTier)
		}
		if t.PlanTier == "" && t.MonthlyQuota <= 0 {
			return fmt.Errorf("scangate: config: tenants[%d] (%s): monthly_quota or plan is required", i, t.TenantID)
		}
		switch t.OveragePolicy {
		case "", OverageBlock, OverageBill:
		default:
			return fmt.Errorf("scangate: config: tenants[%d] (%s): invalid overage_policy %q", i, t.TenantID, t.OveragePolicy)
		}
	}

	return nil
}

// Account materializes a tenant's quota account, resolving plan-derived
// fields and defaulting the cycle to the current calendar month.
func (c Config) Account(t TenantAccount, now time.Time) TenantAccount {
	if t.PlanTier != "" {
		if p, ok := FindPlan(c.Plans, t.PlanTier); ok && t.MonthlyQuota <= 0 {
			t.MonthlyQuota = p.MonthlyQuota
		}
	}
	if t.OveragePolicy == "" {
		t.OveragePolicy = OverageBlock
	}
	if t.CycleStart.IsZero() || t.CycleEnd.IsZero() {
		now = now.UTC()
		t.CycleStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		t.CycleEnd = t.CycleStart.AddDate(0, 1, 0)
	}
	return t
}
