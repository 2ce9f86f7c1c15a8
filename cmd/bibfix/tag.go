// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/bibfix/internal/enrich"
	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/internal/library"
	"github.com/pdiddy/bibfix/internal/providers"
	"github.com/pdiddy/bibfix/internal/ratelimit"
	"github.com/pdiddy/bibfix/internal/tagger"
	"github.com/pdiddy/bibfix/pkg/types"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Classify records into the controlled tag vocabulary",
	Long: `Tag applies the controlled vocabulary in two passes. The rules pass matches
title, abstract, and journal text against the pattern vocabulary and routes
anything it cannot tag into the LLM queue. The llm pass drains that queue
through an abstract waterfall and a chat-completions model.`,
}

var tagRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Apply the pattern vocabulary to eligible records",
	RunE:  runTagRules,
}

var tagLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Tag the queue the rules pass left behind via an LLM",
	Long: `The llm pass processes records carrying the queue tag. For each record it
finds an abstract (existing text, then OpenAlex, then Semantic Scholar),
asks the model to pick from the allowed vocabulary, and writes back allowed
tags plus sanitized candidate/ proposals for vocabulary review.

Requires a DeepSeek API key in .secrets/deepseek-api-key or via --api-key.`,
	RunE: runTagLLM,
}

func init() {
	for _, c := range []*cobra.Command{tagRulesCmd, tagLLMCmd} {
		c.Flags().Bool("apply", false, "persist changes (default is a dry run)")
		c.Flags().Int("batch-size", 0, "records per batch")
		c.Flags().Bool("auto-loop", false, "keep pulling batches until none are eligible")
		c.Flags().Int("max-batches", 0, "batch ceiling for --auto-loop")
		c.Flags().String("vocab", "", "YAML vocabulary file (default: compiled-in rules)")
		c.Flags().String("log-dir", "", "directory for the run log file (empty disables)")
	}
	tagRulesCmd.Flags().Bool("clear-old-rule-tags", false, "rewrite existing rule tags instead of appending")
	tagLLMCmd.Flags().String("api-key", "", "DeepSeek API key (default: .secrets/deepseek-api-key)")
	tagLLMCmd.Flags().Bool("title-only-fallback", true, "call the model on title alone when no abstract is found")

	tagCmd.AddCommand(tagRulesCmd)
	tagCmd.AddCommand(tagLLMCmd)
	rootCmd.AddCommand(tagCmd)
}

// tagConfigFromViper overlays config-file keys on the compiled defaults and
// applies the flags shared by both tag subcommands.
func tagConfigFromViper(cmd *cobra.Command) types.TagConfig {
	cfg := types.DefaultTagConfig()
	cfg.DryRun = viperBool("tag.dry_run", cfg.DryRun)
	cfg.OnlyEnglish = viperBool("tag.only_english", cfg.OnlyEnglish)
	cfg.RequireCoreMetadata = viperBool("tag.require_core_metadata", cfg.RequireCoreMetadata)
	cfg.TargetTag = viperString("tag.target_tag", cfg.TargetTag)
	cfg.MaxTagsPerItem = viperInt("tag.max_tags_per_item", cfg.MaxTagsPerItem)
	cfg.MinAbstractLen = viperInt("tag.min_abstract_len", cfg.MinAbstractLen)
	cfg.BatchSize = viperInt("tag.batch_size", cfg.BatchSize)
	cfg.AutoLoop = viperBool("tag.auto_loop", cfg.AutoLoop)
	cfg.MaxBatches = viperInt("tag.max_batches", cfg.MaxBatches)
	cfg.VocabFile = viperString("tag.vocab_file", cfg.VocabFile)
	cfg.LogDir = viperString("tag.log_dir", cfg.LogDir)
	cfg.Timeout = viperDuration("tag.timeout", cfg.Timeout)
	cfg.AI.BaseURL = viperString("tag.ai.base_url", cfg.AI.BaseURL)
	cfg.AI.Model = viperString("tag.ai.model", cfg.AI.Model)

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
	if cmd.Flags().Changed("vocab") {
		cfg.VocabFile, _ = cmd.Flags().GetString("vocab")
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.LogDir, _ = cmd.Flags().GetString("log-dir")
	}
	return cfg
}

func openStore(cmd *cobra.Command) (*library.SQLiteStore, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	return library.NewSQLiteStore(types.LibraryConfig{
		DBPath: viperString("library.db_path", dbPath),
	})
}

func runTagRules(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd)
	cfg := tagConfigFromViper(cmd)
	if cmd.Flags().Changed("clear-old-rule-tags") {
		cfg.ClearOldRuleTags, _ = cmd.Flags().GetBool("clear-old-rule-tags")
	}

	vocab, err := tagger.LoadVocabulary(cfg.VocabFile)
	if err != nil {
		return err
	}
	rt, err := tagger.NewRuleTagger(vocab, cfg.MaxTagsPerItem)
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	driver := enrich.NewRuleTagDriver(store, rt, cfg, log)
	stats, err := driver.Run(cmd.Context(), os.Stdout)
	if err != nil {
		return err
	}

	logRunOutcome(log, cfg.DryRun, stats.Failed)
	return nil
}

func runTagLLM(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd)
	cfg := tagConfigFromViper(cmd)
	if cmd.Flags().Changed("title-only-fallback") {
		cfg.AllowTitleOnlyFallback, _ = cmd.Flags().GetBool("title-only-fallback")
	}

	apiKey, _ := cmd.Flags().GetString("api-key")
	cfg.AI.APIKey = secretDefault("deepseek-api-key", apiKey)
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("no DeepSeek API key: put one in .secrets/deepseek-api-key or pass --api-key")
	}
	cfg.Mailto = secretDefault("mailto", viperString("tag.mailto", ""))

	vocab, err := tagger.LoadVocabulary(cfg.VocabFile)
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rlCfg := rateLimitConfigFromViper()
	limiter := ratelimit.New(rlCfg, log)
	client := httpjson.New(cfg.HTTPConfig, rlCfg, limiter, log)

	llm := tagger.NewLLM(client, cfg.AI, vocab)
	openAlex := &providers.OpenAlex{Client: client, Mailto: cfg.Mailto}
	semantic := &providers.SemanticScholar{
		Client: client,
		APIKey: secretDefault("semantic-scholar-api-key", ""),
	}

	driver := enrich.NewLLMTagDriver(store, llm, openAlex, semantic, cfg, log)
	driver.Limiter = limiter
	stats, err := driver.Run(cmd.Context(), os.Stdout)
	if err != nil {
		return err
	}

	logRunOutcome(log, cfg.DryRun, stats.Failed)
	return nil
}
