// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the bibfix CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/bibfix/internal/secrets"
	"github.com/pdiddy/bibfix/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns the secret value for key if it exists, or fallback otherwise.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the bibfix CLI.
var rootCmd = &cobra.Command{
	Use:   "bibfix",
	Short: "Batch enrichment and tagging for a bibliographic library",
	Long: `bibfix reconciles journal-article records in a local library against the
Crossref, OpenAlex, and Semantic Scholar APIs. It fills missing DOIs, journal
names, and publication years, marks each record with an outcome tag, and
classifies records into a controlled tag vocabulary by rules first and an LLM
second.

Each stage is a subcommand: enrich fills metadata, tag rules applies the
pattern vocabulary, and tag llm processes the queue the rule pass left behind.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./bibfix.yaml or ~/.config/bibfix/config.yaml)")
	rootCmd.PersistentFlags().String("db", "library.db", "path to the library SQLite database")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("bibfix")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "bibfix"))
		}
	}

	viper.SetEnvPrefix("BIBFIX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the stderr console logger shared by all subcommands.
func newLogger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.InfoLevel
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Config file values sit between compiled defaults and explicit flags:
// a key overrides the default only when the file or environment sets it.

func viperString(key, def string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return def
}

func viperInt(key string, def int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return def
}

func viperBool(key string, def bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return def
}

func viperDuration(key string, def time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return def
}

func viperFloat(key string, def float64) float64 {
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	return def
}

// rateLimitConfigFromViper overlays `rate_limit.*` config-file keys on the
// compiled pacing defaults. Policies for unknown providers cannot be added
// this way; the default policy set covers every provider the pipeline calls.
func rateLimitConfigFromViper() types.RateLimitConfig {
	cfg := types.DefaultRateLimitConfig()
	cfg.GlobalCooldown = viperDuration("rate_limit.global_cooldown", cfg.GlobalCooldown)
	cfg.MaxRetries = viperInt("rate_limit.max_retries", cfg.MaxRetries)
	cfg.RetryBaseDelay = viperDuration("rate_limit.retry_base_delay", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = viperDuration("rate_limit.retry_max_delay", cfg.RetryMaxDelay)
	cfg.RetryJitter = viperDuration("rate_limit.retry_jitter", cfg.RetryJitter)
	for name, p := range cfg.Policies {
		prefix := "rate_limit.policies." + name + "."
		p.MinInterval = viperDuration(prefix+"min_interval", p.MinInterval)
		p.Penalty429 = viperDuration(prefix+"penalty_429", p.Penalty429)
		p.CooldownCap = viperDuration(prefix+"cooldown_cap", p.CooldownCap)
		cfg.Policies[name] = p
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
