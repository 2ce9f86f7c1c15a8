// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "bibfix/0.1 (mailto:ops@example.org)").
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Mailto is the contact address sent to polite-pool APIs (Crossref,
	// OpenAlex) as the mailto parameter.
	Mailto string `json:"mailto,omitempty" yaml:"mailto,omitempty"`
}

// ProviderPolicy holds per-provider pacing and penalty settings.
type ProviderPolicy struct {
	// MinInterval is the minimum gap between consecutive calls.
	MinInterval time.Duration `json:"min_interval" yaml:"min_interval"`

	// Penalty429 is the starting cooldown applied on the first 429. The
	// cooldown doubles on each subsequent 429 up to CooldownCap.
	Penalty429 time.Duration `json:"penalty_429" yaml:"penalty_429"`

	// CooldownCap bounds the escalated cooldown (default 3m).
	CooldownCap time.Duration `json:"cooldown_cap,omitempty" yaml:"cooldown_cap,omitempty"`
}

// RateLimitConfig holds the shared request-orchestration settings.
type RateLimitConfig struct {
	// Policies maps provider name to its pacing policy.
	Policies map[string]ProviderPolicy `json:"policies" yaml:"policies"`

	// GlobalCooldown is the cross-provider cooldown pushed on any 429.
	GlobalCooldown time.Duration `json:"global_cooldown" yaml:"global_cooldown"`

	// MaxRetries is the attempt ceiling per request (default 4).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`

	// RetryMaxDelay caps the doubling backoff.
	RetryMaxDelay time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`

	// RetryJitter is the maximum random jitter added to waits.
	RetryJitter time.Duration `json:"retry_jitter" yaml:"retry_jitter"`
}

// ResolveConfig holds the waterfall engine settings.
type ResolveConfig struct {
	// MinScorePrimary is the accept threshold for the primary provider.
	MinScorePrimary float64 `json:"min_score_primary" yaml:"min_score_primary"`

	// MinScoreFallback is the accept threshold for fallback providers.
	MinScoreFallback float64 `json:"min_score_fallback" yaml:"min_score_fallback"`

	// EnableOpenAlex controls whether the OpenAlex fallback is consulted.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex"`

	// EnableSemantic controls whether the Semantic Scholar fallback is consulted.
	EnableSemantic bool `json:"enable_semantic" yaml:"enable_semantic"`

	// RepoSourcePatterns lists case-insensitive regexes that disqualify a
	// venue name from being recorded as a journal (preprint servers,
	// institutional repositories, theses).
	RepoSourcePatterns []string `json:"repo_source_patterns,omitempty" yaml:"repo_source_patterns,omitempty"`
}

// EnrichConfig holds settings for the enrichment batch driver.
type EnrichConfig struct {
	HTTPConfig `yaml:",inline"`

	// DryRun computes and reports every decision but persists nothing.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// OnlyMissingFields restricts eligibility to records missing at least
	// one of DOI, journal, or year.
	OnlyMissingFields bool `json:"only_missing_fields" yaml:"only_missing_fields"`

	// BatchSize is the number of records pulled per batch (default 120).
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// AutoLoop keeps pulling batches until MaxBatches or an empty batch.
	AutoLoop bool `json:"auto_loop" yaml:"auto_loop"`

	// MaxBatches bounds the auto-loop (default 20).
	MaxBatches int `json:"max_batches" yaml:"max_batches"`

	// RecordDelay is the pause between consecutive records.
	RecordDelay time.Duration `json:"record_delay" yaml:"record_delay"`

	// BatchGap is the pause between consecutive batches.
	BatchGap time.Duration `json:"batch_gap" yaml:"batch_gap"`

	// DedupeWithinRun skips records already processed in this run.
	DedupeWithinRun bool `json:"dedupe_within_run" yaml:"dedupe_within_run"`

	// SampleShow is how many accepted lines the summary echoes (default 30).
	SampleShow int `json:"sample_show" yaml:"sample_show"`

	// LogDir is where run logs are written; empty disables the log file.
	LogDir string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`

	// LogPrefix is the log filename prefix (default "metadata_fix").
	LogPrefix string `json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
}

// AIConfig holds settings for the LLM tagging API.
type AIConfig struct {
	// BaseURL is the chat-completions endpoint base (e.g. "https://api.deepseek.com").
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model is the model identifier (e.g. "deepseek-chat").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// TagConfig holds settings for the tagging stages.
type TagConfig struct {
	HTTPConfig `yaml:",inline"`

	AI AIConfig `json:"ai" yaml:"ai"`

	// DryRun computes tags but persists nothing.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// OnlyEnglish skips records whose title, journal, or abstract contains
	// CJK characters.
	OnlyEnglish bool `json:"only_english" yaml:"only_english"`

	// RequireCoreMetadata skips records missing DOI, journal, or year.
	RequireCoreMetadata bool `json:"require_core_metadata" yaml:"require_core_metadata"`

	// TargetTag selects the LLM-tagging queue (default "/meta_llm_untagged").
	TargetTag string `json:"target_tag" yaml:"target_tag"`

	// MaxTagsPerItem caps rule tags per record (default 8).
	MaxTagsPerItem int `json:"max_tags_per_item" yaml:"max_tags_per_item"`

	// ClearOldRuleTags rewrites existing rule tags instead of appending.
	ClearOldRuleTags bool `json:"clear_old_rule_tags" yaml:"clear_old_rule_tags"`

	// AllowTitleOnlyFallback lets the LLM tagger run without an abstract.
	AllowTitleOnlyFallback bool `json:"allow_title_only_fallback" yaml:"allow_title_only_fallback"`

	// MinAbstractLen is the minimum abstract length considered usable (default 80).
	MinAbstractLen int `json:"min_abstract_len" yaml:"min_abstract_len"`

	// BatchSize is the number of records pulled per batch (default 20).
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// AutoLoop and MaxBatches mirror the enrichment driver knobs.
	AutoLoop   bool `json:"auto_loop" yaml:"auto_loop"`
	MaxBatches int  `json:"max_batches" yaml:"max_batches"`

	// VocabFile points at a YAML vocabulary/rules file; empty uses the
	// compiled-in defaults.
	VocabFile string `json:"vocab_file,omitempty" yaml:"vocab_file,omitempty"`

	// LogDir is where run logs are written; empty disables the log file.
	LogDir string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`

	// LogPrefix is the log filename prefix (default "autotag").
	LogPrefix string `json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
}

// LibraryConfig holds settings for the record store.
type LibraryConfig struct {
	// DBPath is the SQLite database file path.
	DBPath string `json:"db_path" yaml:"db_path"`
}

// DefaultRateLimitConfig returns pacing defaults tuned for the free tiers
// of the three bibliographic APIs and the LLM endpoint. Semantic Scholar
// enforces 1 request/second across all endpoints, hence the wide margin.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Policies: map[string]ProviderPolicy{
			string(ProviderCrossref): {MinInterval: time.Second, Penalty429: 20 * time.Second},
			string(ProviderOpenAlex): {MinInterval: 2500 * time.Millisecond, Penalty429: 30 * time.Second},
			string(ProviderSemantic): {MinInterval: 1300 * time.Millisecond, Penalty429: 60 * time.Second},
			"llm":                    {MinInterval: 1800 * time.Millisecond, Penalty429: 15 * time.Second},
		},
		GlobalCooldown: 20 * time.Second,
		MaxRetries:     4,
		RetryBaseDelay: 1200 * time.Millisecond,
		RetryMaxDelay:  20 * time.Second,
		RetryJitter:    1200 * time.Millisecond,
	}
}

// DefaultResolveConfig returns the waterfall defaults: a strict bar for
// Crossref, a lenient bar for the fallbacks, and the stock repository
// patterns.
func DefaultResolveConfig() ResolveConfig {
	return ResolveConfig{
		MinScorePrimary:  0.78,
		MinScoreFallback: 0.68,
		EnableOpenAlex:   true,
		EnableSemantic:   true,
		RepoSourcePatterns: []string{
			`arxiv`, `dspace`, `scholarworks`, `repository`, `thesis`, `dissertation`, `phd`,
		},
	}
}

// DefaultEnrichConfig returns the batch driver defaults. DryRun is on by
// default so a bare run never mutates the library.
func DefaultEnrichConfig() EnrichConfig {
	return EnrichConfig{
		HTTPConfig: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "bibfix/0.1",
		},
		DryRun:            true,
		OnlyMissingFields: true,
		BatchSize:         120,
		MaxBatches:        20,
		RecordDelay:       250 * time.Millisecond,
		BatchGap:          time.Second,
		DedupeWithinRun:   true,
		SampleShow:        30,
		LogPrefix:         "metadata_fix",
	}
}

// DefaultTagConfig returns the tagging defaults.
func DefaultTagConfig() TagConfig {
	return TagConfig{
		HTTPConfig: HTTPConfig{
			Timeout:   60 * time.Second,
			UserAgent: "bibfix/0.1",
		},
		AI: AIConfig{
			BaseURL: "https://api.deepseek.com",
			Model:   "deepseek-chat",
		},
		DryRun:                 true,
		OnlyEnglish:            true,
		RequireCoreMetadata:    true,
		TargetTag:              TagLLMUntagged,
		MaxTagsPerItem:         8,
		AllowTitleOnlyFallback: true,
		MinAbstractLen:         80,
		BatchSize:              20,
		MaxBatches:             5,
		LogPrefix:              "autotag",
	}
}
