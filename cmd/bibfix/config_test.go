// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/bibfix/pkg/types"
)

func TestRateLimitConfigFromViperOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("rate_limit.max_retries", 7)
	viper.Set("rate_limit.global_cooldown", "45s")
	viper.Set("rate_limit.retry_base_delay", "500ms")
	viper.Set("rate_limit.policies.crossref.min_interval", "2s")
	viper.Set("rate_limit.policies.semantic.penalty_429", "90s")

	cfg := rateLimitConfigFromViper()
	if cfg.MaxRetries != 7 {
		t.Errorf("max_retries = %d", cfg.MaxRetries)
	}
	if cfg.GlobalCooldown != 45*time.Second {
		t.Errorf("global_cooldown = %s", cfg.GlobalCooldown)
	}
	if cfg.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("retry_base_delay = %s", cfg.RetryBaseDelay)
	}
	if got := cfg.Policies[string(types.ProviderCrossref)].MinInterval; got != 2*time.Second {
		t.Errorf("crossref min_interval = %s", got)
	}
	if got := cfg.Policies[string(types.ProviderSemantic)].Penalty429; got != 90*time.Second {
		t.Errorf("semantic penalty_429 = %s", got)
	}

	// Keys the file does not set keep their defaults.
	def := types.DefaultRateLimitConfig()
	if cfg.RetryMaxDelay != def.RetryMaxDelay {
		t.Errorf("retry_max_delay = %s", cfg.RetryMaxDelay)
	}
	if got := cfg.Policies[string(types.ProviderOpenAlex)].MinInterval; got != def.Policies[string(types.ProviderOpenAlex)].MinInterval {
		t.Errorf("openalex min_interval = %s", got)
	}
}

func TestRateLimitConfigFromViperDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := rateLimitConfigFromViper()
	def := types.DefaultRateLimitConfig()
	if cfg.MaxRetries != def.MaxRetries || cfg.GlobalCooldown != def.GlobalCooldown {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.Policies["llm"].MinInterval; got != def.Policies["llm"].MinInterval {
		t.Errorf("llm min_interval = %s", got)
	}
}
