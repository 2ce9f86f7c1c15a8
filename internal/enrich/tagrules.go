// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/internal/library"
	"github.com/pdiddy/bibfix/internal/tagger"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

// RuleTagDriver applies the rule-based vocabulary to eligible records.
type RuleTagDriver struct {
	Store  library.Store
	Tagger *tagger.RuleTagger
	Config types.TagConfig
	Log    zerolog.Logger

	now func() time.Time
}

// NewRuleTagDriver builds a driver with the real clock.
func NewRuleTagDriver(store library.Store, rt *tagger.RuleTagger, cfg types.TagConfig, log zerolog.Logger) *RuleTagDriver {
	return &RuleTagDriver{Store: store, Tagger: rt, Config: cfg, Log: log, now: time.Now}
}

// RuleTagStats are the rule tagging run counters.
type RuleTagStats struct {
	ProcessedTotal int
	BatchesDone    int
	Checked        int
	TaggedItems    int
	ChangedItems   int
	WouldChange    int
	Untagged       int
	SkippedCN      int
	SkippedNoMeta  int
	Failed         int

	DimHits  map[string]int
	TagCount map[string]int
}

// Run walks the library in batch windows and tags each eligible record.
func (d *RuleTagDriver) Run(ctx context.Context, w io.Writer) (RuleTagStats, error) {
	stats := RuleTagStats{
		DimHits:  map[string]int{},
		TagCount: map[string]int{},
	}
	var details []string

	maxLoops := 1
	if d.Config.AutoLoop {
		maxLoops = d.Config.MaxBatches
	}

	for b := 0; b < maxLoops; b++ {
		records, err := d.Store.Records(ctx)
		if err != nil {
			return stats, fmt.Errorf("listing records: %w", err)
		}
		lo := b * d.Config.BatchSize
		if lo >= len(records) {
			break
		}
		hi := lo + d.Config.BatchSize
		if hi > len(records) {
			hi = len(records)
		}
		batch := records[lo:hi]
		stats.BatchesDone++

		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.ProcessedTotal++
			d.processRecord(ctx, rec, &stats, &details)
		}
		if !d.Config.AutoLoop {
			break
		}
	}

	report := d.report(stats, details)
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

func (d *RuleTagDriver) processRecord(ctx context.Context, rec library.Record, stats *RuleTagStats, details *[]string) {
	title := strings.TrimSpace(rec.Field(library.FieldTitle))
	abstract := strings.TrimSpace(rec.Field(library.FieldAbstract))
	journal := strings.TrimSpace(rec.Field(library.FieldJournal))

	if d.Config.OnlyEnglish && (textmatch.ContainsCJK(title) || textmatch.ContainsCJK(abstract) ||
		textmatch.ContainsCJK(journal) || rec.HasTag(types.TagCNQueue)) {
		stats.SkippedCN++
		return
	}
	if d.Config.RequireCoreMetadata && !hasCoreMetadata(rec) {
		stats.SkippedNoMeta++
		return
	}

	stats.Checked++
	tags := d.Tagger.PickTags(title + "\n" + abstract + "\n" + journal)

	if len(tags) == 0 {
		stats.Untagged++
		// Route untagged records to the LLM queue so the second pass
		// can pick them up.
		if d.Config.TargetTag != "" && !rec.HasTag(d.Config.TargetTag) {
			if !d.Config.DryRun {
				rec.AddTag(d.Config.TargetTag)
				if err := rec.Save(ctx); err != nil {
					stats.Failed++
					*details = append(*details, fmt.Sprintf("fail | key:%s | save: %v", rec.Key(), err))
					return
				}
			}
		}
		return
	}

	willAdd := false
	for _, t := range tags {
		if !rec.HasTag(t) {
			willAdd = true
			break
		}
	}
	if willAdd || d.Config.ClearOldRuleTags {
		stats.WouldChange++
	}

	dims := map[string]bool{}
	for _, t := range tags {
		dims[strings.SplitN(t, "/", 2)[0]] = true
		stats.TagCount[t]++
	}
	for dim := range dims {
		stats.DimHits[dim]++
	}

	if !d.Config.DryRun && (willAdd || d.Config.ClearOldRuleTags) {
		if d.Config.ClearOldRuleTags {
			for _, t := range rec.Tags() {
				if tagger.IsRuleTag(t) {
					rec.RemoveTag(t)
				}
			}
		}
		for _, t := range tags {
			rec.AddTag(t)
		}
		if err := rec.Save(ctx); err != nil {
			stats.Failed++
			*details = append(*details, fmt.Sprintf("fail | key:%s | save: %v", rec.Key(), err))
			return
		}
		stats.ChangedItems++
	}

	stats.TaggedItems++
	*details = append(*details, fmt.Sprintf("%s | %s", rec.Key(), strings.Join(tags, "; ")))
}

// hasCoreMetadata reports whether the record has DOI, journal, and a
// recognizable year.
func hasCoreMetadata(rec library.Record) bool {
	doi := types.NormalizeDOI(rec.Field(library.FieldDOI))
	journal := strings.TrimSpace(rec.Field(library.FieldJournal))
	year := types.ExtractYear(rec.Field(library.FieldDate))
	return doi != "" && journal != "" && year != 0
}

func (d *RuleTagDriver) report(stats RuleTagStats, details []string) string {
	lines := []string{
		fmt.Sprintf("time=%s", d.now().UTC().Format("2006-01-02 15:04:05")),
		fmt.Sprintf("dry_run=%t, only_english=%t, require_core_metadata=%t", d.Config.DryRun, d.Config.OnlyEnglish, d.Config.RequireCoreMetadata),
		fmt.Sprintf("auto_loop=%t, batch_size=%d, max_batches=%d", d.Config.AutoLoop, d.Config.BatchSize, d.Config.MaxBatches),
		fmt.Sprintf("max_tags_per_item=%d, clear_old_rule_tags=%t", d.Config.MaxTagsPerItem, d.Config.ClearOldRuleTags),
		fmt.Sprintf("processed_total=%d, batches_done=%d", stats.ProcessedTotal, stats.BatchesDone),
		fmt.Sprintf("checked=%d, tagged_items=%d, changed_items=%d, would_change_items=%d, untagged=%d, skipped_cn=%d, skipped_no_meta=%d, failed=%d",
			stats.Checked, stats.TaggedItems, stats.ChangedItems, stats.WouldChange, stats.Untagged, stats.SkippedCN, stats.SkippedNoMeta, stats.Failed),
		fmt.Sprintf("dim_coverage: topic=%d, method=%d, material=%d, app=%d",
			stats.DimHits["topic"], stats.DimHits["method"], stats.DimHits["material"], stats.DimHits["app"]),
		"",
		"top_tags:",
	}
	lines = append(lines, topCounts(stats.TagCount, 50)...)
	lines = append(lines, "", "details:")
	lines = append(lines, details...)
	return strings.Join(lines, "\n")
}

// topCounts renders the n most frequent entries as "tag => count",
// breaking count ties by name for stable output.
func topCounts(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	sorted := make([]kv, 0, len(counts))
	for k, v := range counts {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].v != sorted[j].v {
			return sorted[i].v > sorted[j].v
		}
		return sorted[i].k < sorted[j].k
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, fmt.Sprintf("%s => %d", e.k, e.v))
	}
	return out
}
