package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration: the refresh and freshness
// tunables, the breaker and retry settings, and the ambient fields every
// node needs — listen address, upstream base URL, peer list, logging,
// metrics, rate limiting.
type Config struct {
	NodeID          string   `yaml:"node_id"`
	ListenAddr      string   `yaml:"listen_addr"`
	UpstreamBaseURL string   `yaml:"upstream_base_url"`
	Peers           []string `yaml:"peers"`

	RefreshInterval            int `yaml:"refresh_interval_ms"`
	RefreshJitter              int `yaml:"refresh_jitter_ms"`
	RecentEnoughThreshold      int `yaml:"recent_enough_threshold_ms"`
	BackgroundRefreshThreshold int `yaml:"background_refresh_threshold_ms"`
	MinAskMaxAgeMs             int `yaml:"min_ask_max_age_ms"`
	AskTimeoutMs               int `yaml:"ask_timeout_ms"`
	DrainTimeoutMs             int `yaml:"drain_timeout_ms"`

	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerOpenDurationMs   int `yaml:"breaker_open_duration_ms"`

	RetryMaxAttempts int     `yaml:"retry_max_attempts"`
	RetryBaseDelayMs int     `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int     `yaml:"retry_max_delay_ms"`
	RetryJitter      float64 `yaml:"retry_jitter"`

	WriteMajorityTimeoutMs int `yaml:"write_majority_timeout_ms"`

	CORSOrigins    []string `yaml:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	MetricsEnabled bool     `yaml:"metrics_enabled"`
	LogFormat      string   `yaml:"log_format"`
}

// Load reads configuration from config.yaml and overrides with environment
// variables, defaulting every option that's left unset.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:                 ":8080",
		UpstreamBaseURL:            "https://api.tfl.gov.uk",
		RefreshInterval:            30_000,
		RefreshJitter:              5_000,
		RecentEnoughThreshold:      5_000,
		BackgroundRefreshThreshold: 20_000,
		MinAskMaxAgeMs:             5_000,
		AskTimeoutMs:               5_000,
		DrainTimeoutMs:             10_000,
		BreakerFailureThreshold:    5,
		BreakerOpenDurationMs:      30_000,
		RetryMaxAttempts:           4,
		RetryBaseDelayMs:           1_000,
		RetryMaxDelayMs:            30_000,
		RetryJitter:                0.25,
		WriteMajorityTimeoutMs:     3_000,
		MetricsEnabled:             true,
		LogFormat:                  "json",
	}

	configPath := os.Getenv("TUBESTATUS_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	overrideFromEnv(cfg)
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("TUBESTATUS_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("TUBESTATUS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TUBESTATUS_UPSTREAM_BASE_URL"); v != "" {
		cfg.UpstreamBaseURL = v
	}
	if v := os.Getenv("TUBESTATUS_PEERS"); v != "" {
		cfg.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("TUBESTATUS_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("TUBESTATUS_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("TUBESTATUS_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}
	if v := os.Getenv("TUBESTATUS_REFRESH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshInterval = n
		}
	}
	if v := os.Getenv("TUBESTATUS_REFRESH_JITTER_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshJitter = n
		}
	}
	if v := os.Getenv("TUBESTATUS_RECENT_ENOUGH_THRESHOLD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RecentEnoughThreshold = n
		}
	}
	if v := os.Getenv("TUBESTATUS_BACKGROUND_REFRESH_THRESHOLD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackgroundRefreshThreshold = n
		}
	}
	if v := os.Getenv("TUBESTATUS_MIN_ASK_MAX_AGE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinAskMaxAgeMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_ASK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AskTimeoutMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_DRAIN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DrainTimeoutMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerFailureThreshold = n
		}
	}
	if v := os.Getenv("TUBESTATUS_BREAKER_OPEN_DURATION_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerOpenDurationMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("TUBESTATUS_RETRY_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryBaseDelayMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_RETRY_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxDelayMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_RETRY_JITTER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RetryJitter = f
		}
	}
	if v := os.Getenv("TUBESTATUS_WRITE_MAJORITY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WriteMajorityTimeoutMs = n
		}
	}
	if v := os.Getenv("TUBESTATUS_METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TUBESTATUS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
