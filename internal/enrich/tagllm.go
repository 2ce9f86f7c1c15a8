// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/internal/library"
	"github.com/pdiddy/bibfix/internal/ratelimit"
	"github.com/pdiddy/bibfix/internal/tagger"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

const (
	// s2BatchSize keeps the batch endpoint requests small.
	s2BatchSize = 10

	progressEvery = 5
)

// AbstractProvider looks up paper abstracts one record at a time.
// Implemented by providers.OpenAlex and providers.SemanticScholar.
type AbstractProvider interface {
	AbstractByDOI(ctx context.Context, doi string) (string, error)
	AbstractByTitle(ctx context.Context, title string) (string, error)
}

// BatchAbstractProvider also supports bulk DOI lookups, keyed by DOI
// key. Implemented by providers.SemanticScholar.
type BatchAbstractProvider interface {
	AbstractProvider
	AbstractsByDOI(ctx context.Context, dois []string) (map[string]string, error)
}

// LLMTagDriver tags the target queue through the chat model. Records
// without a usable abstract get one through the abstract waterfall:
// Semantic Scholar batch prefetch, then OpenAlex, then Semantic Scholar
// per-record lookups.
type LLMTagDriver struct {
	Store    library.Store
	LLM      *tagger.LLM
	OpenAlex AbstractProvider
	Semantic BatchAbstractProvider
	Config   types.TagConfig
	Log      zerolog.Logger

	// Limiter, when set, contributes per-provider call counters to the
	// end-of-run report.
	Limiter *ratelimit.Limiter

	now func() time.Time
}

// NewLLMTagDriver builds a driver with the real clock.
func NewLLMTagDriver(store library.Store, llm *tagger.LLM, oa AbstractProvider, s2 BatchAbstractProvider, cfg types.TagConfig, log zerolog.Logger) *LLMTagDriver {
	return &LLMTagDriver{Store: store, LLM: llm, OpenAlex: oa, Semantic: s2, Config: cfg, Log: log, now: time.Now}
}

// LLMTagStats are the LLM tagging run counters.
type LLMTagStats struct {
	Planned        int
	ProcessedTotal int
	Checked        int
	SkippedCN      int
	SkippedNoMeta  int
	Failed         int

	AbsExisting int
	AbsBatch    int
	AbsOpenAlex int
	AbsSemantic int
	AbsMiss     int
	TitleOnly   int

	LLMSuccess         int
	LLMFail            int
	AllowedSuggested   int
	CandidateSuggested int
}

// Run tags the target queue and writes the report to w.
func (d *LLMTagDriver) Run(ctx context.Context, w io.Writer) (LLMTagStats, error) {
	var stats LLMTagStats
	var details []string
	startedAt := d.now()

	queue, err := d.Store.RecordsWithTag(ctx, d.Config.TargetTag)
	if err != nil {
		return stats, fmt.Errorf("listing target queue: %w", err)
	}

	maxItems := d.Config.BatchSize
	if d.Config.AutoLoop {
		maxItems = d.Config.BatchSize * d.Config.MaxBatches
	}
	if maxItems > 0 && len(queue) > maxItems {
		queue = queue[:maxItems]
	}

	// Eligibility pass before any provider traffic.
	var ready []library.Record
	for _, rec := range queue {
		title := strings.TrimSpace(rec.Field(library.FieldTitle))
		abstract := strings.TrimSpace(rec.Field(library.FieldAbstract))
		journal := strings.TrimSpace(rec.Field(library.FieldJournal))
		if d.Config.OnlyEnglish && (textmatch.ContainsCJK(title) || textmatch.ContainsCJK(abstract) || textmatch.ContainsCJK(journal)) {
			stats.SkippedCN++
			continue
		}
		if d.Config.RequireCoreMetadata && !hasCoreMetadata(rec) {
			stats.SkippedNoMeta++
			continue
		}
		stats.Checked++
		ready = append(ready, rec)
	}
	stats.Planned = len(ready)

	prefetched := d.prefetchAbstracts(ctx, ready, &details)

	for _, rec := range ready {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.ProcessedTotal++
		d.processRecord(ctx, rec, prefetched, &stats, &details)

		if stats.ProcessedTotal%progressEvery == 0 || stats.ProcessedTotal == stats.Planned {
			elapsed := d.now().Sub(startedAt)
			avg := elapsed / time.Duration(stats.ProcessedTotal)
			eta := avg * time.Duration(stats.Planned-stats.ProcessedTotal)
			d.Log.Info().
				Int("processed", stats.ProcessedTotal).
				Int("planned", stats.Planned).
				Str("elapsed", formatDuration(elapsed)).
				Str("eta", formatDuration(eta)).
				Msg("tagging progress")
		}
	}

	report := d.report(stats, details, d.now().Sub(startedAt))
	fmt.Fprintln(w, report)

	if d.Config.LogDir != "" {
		path, err := WriteRunLog(d.Config.LogDir, d.Config.LogPrefix, d.now(), report)
		if err != nil {
			d.Log.Warn().Err(err).Msg("saving run log failed")
		} else {
			d.Log.Info().Str("path", path).Msg("run log saved")
		}
	}
	return stats, nil
}

// prefetchAbstracts fetches abstracts for every DOI still missing one
// through the Semantic Scholar batch endpoint, keyed by DOI key.
func (d *LLMTagDriver) prefetchAbstracts(ctx context.Context, ready []library.Record, details *[]string) map[string]string {
	var need []string
	seen := map[string]bool{}
	for _, rec := range ready {
		abstract := strings.TrimSpace(rec.Field(library.FieldAbstract))
		doi := types.NormalizeDOI(rec.Field(library.FieldDOI))
		if len(abstract) >= d.Config.MinAbstractLen || doi == "" {
			continue
		}
		key := types.DOIKey(doi)
		if !seen[key] {
			seen[key] = true
			need = append(need, doi)
		}
	}

	out := map[string]string{}
	for lo := 0; lo < len(need); lo += s2BatchSize {
		hi := lo + s2BatchSize
		if hi > len(need) {
			hi = len(need)
		}
		group := need[lo:hi]
		abstracts, err := d.Semantic.AbstractsByDOI(ctx, group)
		if err != nil {
			*details = append(*details, fmt.Sprintf("s2_batch_fail | size=%d | %v", len(group), err))
			continue
		}
		for k, v := range abstracts {
			out[k] = v
		}
	}
	return out
}

func (d *LLMTagDriver) processRecord(ctx context.Context, rec library.Record, prefetched map[string]string, stats *LLMTagStats, details *[]string) {
	title := strings.TrimSpace(rec.Field(library.FieldTitle))
	journal := strings.TrimSpace(rec.Field(library.FieldJournal))
	year := strings.TrimSpace(rec.Field(library.FieldDate))
	doi := types.NormalizeDOI(rec.Field(library.FieldDOI))

	abstract, source := d.findAbstract(ctx, rec, doi, title, prefetched, stats)
	if source == "miss" {
		if !d.Config.AllowTitleOnlyFallback {
			*details = append(*details, fmt.Sprintf("%s | skip_no_abstract_after_waterfall | %s", rec.Key(), clip(title, 80)))
			return
		}
		abstract = ""
		source = "title_only_fallback"
		stats.TitleOnly++
	}

	var existingRuleTags []string
	for _, t := range rec.Tags() {
		if tagger.IsRuleTag(t) {
			existingRuleTags = append(existingRuleTags, t)
		}
	}

	sug, err := d.LLM.SuggestTags(ctx, tagger.TagRequest{
		Key:          rec.Key(),
		Title:        title,
		Abstract:     abstract,
		Journal:      journal,
		Year:         year,
		ExistingTags: existingRuleTags,
	})
	if err != nil {
		stats.LLMFail++
		*details = append(*details, fmt.Sprintf("%s | llm_fail | %v", rec.Key(), err))
		return
	}

	stats.LLMSuccess++
	stats.AllowedSuggested += len(sug.Allowed)
	stats.CandidateSuggested += len(sug.Candidate)

	if !d.Config.DryRun && (len(sug.Allowed) > 0 || len(sug.Candidate) > 0) {
		for _, t := range sug.Allowed {
			rec.AddTag(t)
		}
		for _, t := range sug.Candidate {
			rec.AddTag(t)
		}
		if err := rec.Save(ctx); err != nil {
			stats.Failed++
			*details = append(*details, fmt.Sprintf("fail | key:%s | save: %v", rec.Key(), err))
			return
		}
	}

	*details = append(*details, fmt.Sprintf("%s | abs=%s | allowed=[%s] | candidate=[%s] | %s",
		rec.Key(), source, strings.Join(sug.Allowed, ", "), strings.Join(sug.Candidate, ", "), clip(title, 80)))
}

// findAbstract walks the abstract sources in trust order. An abstract
// shorter than MinAbstractLen counts as absent.
func (d *LLMTagDriver) findAbstract(ctx context.Context, rec library.Record, doi, title string, prefetched map[string]string, stats *LLMTagStats) (string, string) {
	minLen := d.Config.MinAbstractLen

	if abs := strings.TrimSpace(rec.Field(library.FieldAbstract)); len(abs) >= minLen {
		stats.AbsExisting++
		return abs, "existing"
	}

	if doi != "" {
		if abs := prefetched[types.DOIKey(doi)]; len(abs) >= minLen {
			stats.AbsBatch++
			return abs, "s2_batch_doi"
		}
	}

	if doi != "" {
		if abs, err := d.OpenAlex.AbstractByDOI(ctx, doi); err == nil && len(abs) >= minLen {
			stats.AbsOpenAlex++
			return abs, "openalex_doi"
		}
	}
	if abs, err := d.OpenAlex.AbstractByTitle(ctx, title); err == nil && len(abs) >= minLen {
		stats.AbsOpenAlex++
		return abs, "openalex_title"
	}

	if doi != "" {
		if abs, err := d.Semantic.AbstractByDOI(ctx, doi); err == nil && len(abs) >= minLen {
			stats.AbsSemantic++
			return abs, "s2_doi"
		}
	}
	if abs, err := d.Semantic.AbstractByTitle(ctx, title); err == nil && len(abs) >= minLen {
		stats.AbsSemantic++
		return abs, "s2_title"
	}

	stats.AbsMiss++
	return "", "miss"
}

func (d *LLMTagDriver) report(stats LLMTagStats, details []string, elapsed time.Duration) string {
	avgMs := 0
	if stats.Planned > 0 {
		avgMs = int(elapsed.Milliseconds()) / stats.Planned
	}
	lines := []string{
		fmt.Sprintf("time=%s", d.now().UTC().Format("2006-01-02 15:04:05")),
		fmt.Sprintf("dry_run=%t, target_tag=%s, only_english=%t, require_core_metadata=%t",
			d.Config.DryRun, d.Config.TargetTag, d.Config.OnlyEnglish, d.Config.RequireCoreMetadata),
		fmt.Sprintf("allow_title_only_fallback=%t", d.Config.AllowTitleOnlyFallback),
		fmt.Sprintf("auto_loop=%t, batch_size=%d, max_batches=%d", d.Config.AutoLoop, d.Config.BatchSize, d.Config.MaxBatches),
		fmt.Sprintf("s2_batch_size=%d, min_abstract_len=%d", s2BatchSize, d.Config.MinAbstractLen),
		fmt.Sprintf("planned=%d, processed_total=%d", stats.Planned, stats.ProcessedTotal),
		fmt.Sprintf("checked=%d, skipped_cn=%d, skipped_no_meta=%d, failed=%d",
			stats.Checked, stats.SkippedCN, stats.SkippedNoMeta, stats.Failed),
		fmt.Sprintf("abstract: existing=%d, s2_batch=%d, openalex=%d, s2=%d, miss=%d, title_only=%d",
			stats.AbsExisting, stats.AbsBatch, stats.AbsOpenAlex, stats.AbsSemantic, stats.AbsMiss, stats.TitleOnly),
		fmt.Sprintf("llm: success=%d, fail=%d, allowed_suggested=%d, candidate_suggested=%d",
			stats.LLMSuccess, stats.LLMFail, stats.AllowedSuggested, stats.CandidateSuggested),
		fmt.Sprintf("timing: elapsed=%s, avg_ms_per_item=%d", formatDuration(elapsed), avgMs),
	}
	lines = append(lines, providerStatsLines(d.Limiter)...)
	lines = append(lines, "", "details:")
	lines = append(lines, details...)
	return strings.Join(lines, "\n")
}
