package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

// TTLConfig holds per-dataset cache lifetimes in seconds. Zero means the
// dataset is refetched on every read.
type TTLConfig struct {
	UsersSeconds          int `json:"users_seconds"`
	UserMetricsSeconds    int `json:"user_metrics_seconds"`
	TeamMetricsSeconds    int `json:"team_metrics_seconds"`
	CostDataSeconds       int `json:"cost_data_seconds"`
	PriorMonthCostSeconds int `json:"prior_month_cost_seconds"`
	QuotaConfigSeconds    int `json:"quota_config_seconds"`
}

type Config struct {
	Region          string `json:"region"`
	BillingRegion   string `json:"billing_region"` // AWS/Billing metrics only exist here
	AssumeRoleARN   string `json:"assume_role_arn,omitempty"`
	ServiceKeyword  string `json:"service_keyword"`
	UsageNamespace  string `json:"usage_namespace"`
	UsageMetricName string `json:"usage_metric_name"`
	TeamGroupPrefix string `json:"team_group_prefix"`
	QuotaConfigURL  string `json:"quota_config_url,omitempty"`
	WindowDays      int    `json:"window_days"`

	TTL TTLConfig `json:"ttl"`

	DefaultUserQuotas map[string]core.QuotaLimits `json:"default_user_quotas"`
	DefaultTeamQuotas map[string]core.QuotaLimits `json:"default_team_quotas"`
}

func DefaultConfig() Config {
	return Config{
		Region:          "eu-west-1",
		BillingRegion:   "us-east-1",
		ServiceKeyword:  "bedrock",
		UsageNamespace:  "Bedrock/Usage",
		UsageMetricName: "InvocationCount",
		TeamGroupPrefix: "bedrock-",
		WindowDays:      core.DefaultWindowDays,
		TTL: TTLConfig{
			UsersSeconds:       600,
			UserMetricsSeconds: 300,
			TeamMetricsSeconds: 300,
			CostDataSeconds:    900,
			// Closed-month figures do not move; refetch rarely.
			PriorMonthCostSeconds: 3600,
			QuotaConfigSeconds:    1800,
		},
		DefaultUserQuotas: map[string]core.QuotaLimits{
			"*": {MonthlyLimit: 50, WarningThreshold: 70, CriticalThreshold: 90},
		},
		DefaultTeamQuotas: map[string]core.QuotaLimits{
			"*": {MonthlyLimit: 500, WarningThreshold: 80, CriticalThreshold: 95},
		},
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "bedrockdash")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bedrockdash")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if cfg.Region == "" {
		cfg.Region = defaults.Region
	}
	if cfg.BillingRegion == "" {
		cfg.BillingRegion = defaults.BillingRegion
	}
	if cfg.ServiceKeyword == "" {
		cfg.ServiceKeyword = defaults.ServiceKeyword
	}
	if cfg.UsageNamespace == "" {
		cfg.UsageNamespace = defaults.UsageNamespace
	}
	if cfg.UsageMetricName == "" {
		cfg.UsageMetricName = defaults.UsageMetricName
	}
	if cfg.TeamGroupPrefix == "" {
		cfg.TeamGroupPrefix = defaults.TeamGroupPrefix
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = defaults.WindowDays
	}
	if cfg.DefaultUserQuotas == nil {
		cfg.DefaultUserQuotas = defaults.DefaultUserQuotas
	}
	if cfg.DefaultTeamQuotas == nil {
		cfg.DefaultTeamQuotas = defaults.DefaultTeamQuotas
	}
	clampTTL(&cfg.TTL)

	return cfg, nil
}

// TTLs below zero make no sense; clamp rather than reject.
func clampTTL(ttl *TTLConfig) {
	for _, v := range []*int{
		&ttl.UsersSeconds,
		&ttl.UserMetricsSeconds,
		&ttl.TeamMetricsSeconds,
		&ttl.CostDataSeconds,
		&ttl.PriorMonthCostSeconds,
		&ttl.QuotaConfigSeconds,
	} {
		if *v < 0 {
			*v = 0
		}
	}
}

// TTLFor maps a dataset key to its configured lifetime.
func (c Config) TTLFor(key core.DatasetKey) time.Duration {
	var seconds int
	switch key {
	case core.DatasetUsers:
		seconds = c.TTL.UsersSeconds
	case core.DatasetUserMetrics:
		seconds = c.TTL.UserMetricsSeconds
	case core.DatasetTeamMetrics:
		seconds = c.TTL.TeamMetricsSeconds
	case core.DatasetCostData:
		seconds = c.TTL.CostDataSeconds
	case core.DatasetPriorMonthCost:
		seconds = c.TTL.PriorMonthCostSeconds
	case core.DatasetQuotaConfig:
		seconds = c.TTL.QuotaConfigSeconds
	}
	return time.Duration(seconds) * time.Second
}

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
