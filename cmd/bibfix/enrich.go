// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pdiddy/bibfix/internal/enrich"
	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/internal/library"
	"github.com/pdiddy/bibfix/internal/providers"
	"github.com/pdiddy/bibfix/internal/ratelimit"
	"github.com/pdiddy/bibfix/internal/resolve"
	"github.com/pdiddy/bibfix/pkg/types"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill missing DOIs, journals, and years from bibliographic APIs",
	Long: `Enrich walks the library in batches and resolves each incomplete record
through Crossref first, then OpenAlex, then Semantic Scholar. Accepted matches
fill only fields that are empty; every processed record gets exactly one
outcome tag (/meta_ok, /meta_review, /meta_nohit, or /meta_fail).

Dry-run is the default: pass --apply to write changes back to the library.`,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().Bool("apply", false, "persist changes (default is a dry run)")
	enrichCmd.Flags().Int("batch-size", 0, "records per batch (default 120)")
	enrichCmd.Flags().Bool("auto-loop", false, "keep pulling batches until none are eligible")
	enrichCmd.Flags().Int("max-batches", 0, "batch ceiling for --auto-loop (default 20)")
	enrichCmd.Flags().Bool("only-missing", true, "process only records missing DOI, journal, or year")
	enrichCmd.Flags().String("log-dir", "", "directory for the run log file (empty disables)")
	enrichCmd.Flags().String("mailto", "", "contact address for the Crossref/OpenAlex polite pools")

	rootCmd.AddCommand(enrichCmd)
}

// enrichConfigFromViper overlays config-file keys on the compiled defaults.
func enrichConfigFromViper() types.EnrichConfig {
	cfg := types.DefaultEnrichConfig()
	cfg.DryRun = viperBool("enrich.dry_run", cfg.DryRun)
	cfg.OnlyMissingFields = viperBool("enrich.only_missing_fields", cfg.OnlyMissingFields)
	cfg.BatchSize = viperInt("enrich.batch_size", cfg.BatchSize)
	cfg.AutoLoop = viperBool("enrich.auto_loop", cfg.AutoLoop)
	cfg.MaxBatches = viperInt("enrich.max_batches", cfg.MaxBatches)
	cfg.RecordDelay = viperDuration("enrich.record_delay", cfg.RecordDelay)
	cfg.BatchGap = viperDuration("enrich.batch_gap", cfg.BatchGap)
	cfg.SampleShow = viperInt("enrich.sample_show", cfg.SampleShow)
	cfg.LogDir = viperString("enrich.log_dir", cfg.LogDir)
	cfg.LogPrefix = viperString("enrich.log_prefix", cfg.LogPrefix)
	cfg.Timeout = viperDuration("enrich.timeout", cfg.Timeout)
	return cfg
}

func resolveConfigFromViper() types.ResolveConfig {
	cfg := types.DefaultResolveConfig()
	cfg.MinScorePrimary = viperFloat("resolve.min_score_primary", cfg.MinScorePrimary)
	cfg.MinScoreFallback = viperFloat("resolve.min_score_fallback", cfg.MinScoreFallback)
	cfg.EnableOpenAlex = viperBool("resolve.enable_openalex", cfg.EnableOpenAlex)
	cfg.EnableSemantic = viperBool("resolve.enable_semantic", cfg.EnableSemantic)
	return cfg
}

// providerChain assembles the waterfall in acceptance order.
func providerChain(client *httpjson.Client, mailto string, resolveCfg types.ResolveConfig) []providers.Provider {
	chain := []providers.Provider{
		&providers.Crossref{Client: client, Mailto: mailto},
	}
	if resolveCfg.EnableOpenAlex {
		chain = append(chain, &providers.OpenAlex{Client: client, Mailto: mailto})
	}
	if resolveCfg.EnableSemantic {
		chain = append(chain, &providers.SemanticScholar{
			Client: client,
			APIKey: secretDefault("semantic-scholar-api-key", ""),
		})
	}
	return chain
}

func runEnrich(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd)

	cfg := enrichConfigFromViper()
	resolveCfg := resolveConfigFromViper()

	if apply, _ := cmd.Flags().GetBool("apply"); apply {
		cfg.DryRun = false
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	}
	if cmd.Flags().Changed("auto-loop") {
		cfg.AutoLoop, _ = cmd.Flags().GetBool("auto-loop")
	}
	if cmd.Flags().Changed("max-batches") {
		cfg.MaxBatches, _ = cmd.Flags().GetInt("max-batches")
	}
	if cmd.Flags().Changed("only-missing") {
		cfg.OnlyMissingFields, _ = cmd.Flags().GetBool("only-missing")
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.LogDir, _ = cmd.Flags().GetString("log-dir")
	}

	mailto, _ := cmd.Flags().GetString("mailto")
	cfg.Mailto = secretDefault("mailto", viperString("enrich.mailto", mailto))
	if cfg.Mailto != "" {
		cfg.UserAgent = fmt.Sprintf("bibfix/%s (mailto:%s)", version, cfg.Mailto)
	}

	dbPath, _ := cmd.Flags().GetString("db")
	store, err := library.NewSQLiteStore(types.LibraryConfig{
		DBPath: viperString("library.db_path", dbPath),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	rlCfg := rateLimitConfigFromViper()
	limiter := ratelimit.New(rlCfg, log)
	client := httpjson.New(cfg.HTTPConfig, rlCfg, limiter, log)

	engine, err := resolve.New(providerChain(client, cfg.Mailto, resolveCfg), resolveCfg, log)
	if err != nil {
		return err
	}

	driver := enrich.NewDriver(store, engine, cfg, resolveCfg, log)
	driver.Limiter = limiter
	stats, err := driver.Run(cmd.Context(), os.Stdout)
	if err != nil {
		return err
	}

	logRunOutcome(log, cfg.DryRun, stats.Failed)
	return nil
}

// logRunOutcome prints the shared closing line for batch commands.
func logRunOutcome(log zerolog.Logger, dryRun bool, failed int) {
	ev := log.Info()
	if failed > 0 {
		ev = log.Warn()
	}
	ev.Bool("dry_run", dryRun).Int("failed", failed).Msg("run complete")
}
