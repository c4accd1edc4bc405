package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the config for invalid or missing values. Returns a
// multi-error with all problems found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.ListenAddr == "" {
		errs = append(errs, "listen_addr is required")
	}
	if cfg.UpstreamBaseURL == "" {
		errs = append(errs, "upstream_base_url is required")
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id is required")
	}
	if cfg.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		errs = append(errs, "rate_limit_burst must be >= 0")
	}
	if cfg.RefreshInterval <= 0 {
		errs = append(errs, "refresh_interval_ms must be > 0")
	}
	if cfg.RefreshJitter < 0 {
		errs = append(errs, "refresh_jitter_ms must be >= 0")
	}
	if cfg.MinAskMaxAgeMs <= 0 {
		errs = append(errs, "min_ask_max_age_ms must be > 0")
	}
	if cfg.AskTimeoutMs <= 0 {
		errs = append(errs, "ask_timeout_ms must be > 0")
	}
	if cfg.DrainTimeoutMs <= 0 {
		errs = append(errs, "drain_timeout_ms must be > 0")
	}
	if cfg.DrainTimeoutMs < cfg.AskTimeoutMs {
		errs = append(errs, fmt.Sprintf("drain_timeout_ms (%d) must be >= ask_timeout_ms (%d)", cfg.DrainTimeoutMs, cfg.AskTimeoutMs))
	}
	if cfg.BreakerFailureThreshold <= 0 {
		errs = append(errs, "breaker_failure_threshold must be > 0")
	}
	if cfg.BreakerOpenDurationMs <= 0 {
		errs = append(errs, "breaker_open_duration_ms must be > 0")
	}
	if cfg.RetryMaxAttempts <= 0 {
		errs = append(errs, "retry_max_attempts must be > 0")
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter > 1 {
		errs = append(errs, "retry_jitter must be in [0, 1]")
	}
	if cfg.WriteMajorityTimeoutMs <= 0 {
		errs = append(errs, "write_majority_timeout_ms must be > 0")
	}
	for _, p := range cfg.Peers {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, "peers must not contain empty entries")
			break
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed: " + strings.Join(errs, "; "))
	}
	return nil
}
