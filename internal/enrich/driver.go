// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/internal/library"
	"github.com/pdiddy/bibfix/internal/ratelimit"
	"github.com/pdiddy/bibfix/internal/resolve"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

// Driver runs the metadata enrichment batch job: select eligible
// records, resolve each through the provider waterfall, and apply the
// write-back policy.
type Driver struct {
	Store   library.Store
	Engine  *resolve.Engine
	Config  types.EnrichConfig
	Resolve types.ResolveConfig
	Log     zerolog.Logger

	// Limiter, when set, contributes per-provider call counters to the
	// end-of-run report.
	Limiter *ratelimit.Limiter

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewDriver builds a driver with the real clock.
func NewDriver(store library.Store, engine *resolve.Engine, cfg types.EnrichConfig, resolveCfg types.ResolveConfig, log zerolog.Logger) *Driver {
	return &Driver{
		Store:   store,
		Engine:  engine,
		Config:  cfg,
		Resolve: resolveCfg,
		Log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetClock replaces the clock and sleep functions for tests.
func (d *Driver) SetClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	d.now = now
	d.sleep = sleep
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats are the enrichment run counters.
type Stats struct {
	TotalCandidates int
	ProcessedTotal  int
	BatchesDone     int
	Checked         int
	UniqueChecked   int
	SkippedCN       int
	CNTagged        int
	Updated         int
	Unchanged       int
	NoHit           int
	Review          int
	Failed          int

	ReviewNoTitle       int
	ReviewLowScore      int
	ReviewNoJournal     int
	ReviewRepoSource    int
	ReviewFallbackNoDOI int

	AcceptedCrossref int
	AcceptedOpenAlex int
	AcceptedSemantic int
}

// ReviewRate is the share of checked records that needed review or got
// no hit, in percent.
func (s Stats) ReviewRate() float64 {
	if s.Checked == 0 {
		return 0
	}
	return float64(s.Review+s.NoHit) / float64(s.Checked) * 100
}

// Run executes the batch job, writes the report to w, and persists a
// log file when the config names a log directory.
func (d *Driver) Run(ctx context.Context, w io.Writer) (Stats, error) {
	var stats Stats
	processed := map[string]bool{}
	var sample, details []string

	maxLoops := 1
	if d.Config.AutoLoop {
		maxLoops = d.Config.MaxBatches
	}

	for b := 0; b < maxLoops; b++ {
		records, err := d.Store.Records(ctx)
		if err != nil {
			return stats, fmt.Errorf("listing records: %w", err)
		}
		candidates := d.eligible(records)
		stats.TotalCandidates = len(candidates)

		batch := candidates
		if d.Config.BatchSize > 0 && len(batch) > d.Config.BatchSize {
			batch = batch[:d.Config.BatchSize]
		}
		if len(batch) == 0 {
			break
		}
		stats.BatchesDone++

		batchProcessed := 0
		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if d.Config.DedupeWithinRun && processed[rec.Key()] {
				continue
			}
			processed[rec.Key()] = true
			batchProcessed++
			d.processRecord(ctx, rec, &stats, &sample, &details)
		}

		stats.ProcessedTotal += batchProcessed
		if batchProcessed == 0 {
			break
		}
		if !d.Config.AutoLoop {
			break
		}
		if err := d.sleep(ctx, d.Config.BatchGap); err != nil {
			return stats, err
		}
	}
	stats.UniqueChecked = len(processed)

	report := d.report(stats, sample, details)
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

// eligible filters records for this pipeline: CN-queued records are
// out, and with OnlyMissingFields only records missing DOI, journal, or
// year are in.
func (d *Driver) eligible(records []library.Record) []library.Record {
	var out []library.Record
	for _, rec := range records {
		if rec.HasTag(types.TagCNQueue) {
			continue
		}
		if d.Config.OnlyMissingFields {
			doi := types.NormalizeDOI(rec.Field(library.FieldDOI))
			journal := strings.TrimSpace(rec.Field(library.FieldJournal))
			year := types.ExtractYear(rec.Field(library.FieldDate))
			if doi != "" && journal != "" && year != 0 {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// processRecord handles one record end to end. A panic anywhere inside
// marks the record failed and the batch continues.
func (d *Driver) processRecord(ctx context.Context, rec library.Record, stats *Stats, sample, details *[]string) {
	defer func() {
		if r := recover(); r != nil {
			stats.Failed++
			if !d.Config.DryRun {
				clearOutcomeTags(rec)
				rec.AddTag(types.TagFail)
				_ = rec.Save(ctx)
			}
			*details = append(*details, fmt.Sprintf("fail | key:%s | %v", rec.Key(), r))
			d.Log.Error().Str("key", rec.Key()).Any("panic", r).Msg("record processing failed")
		}
	}()

	title := strings.TrimSpace(rec.Field(library.FieldTitle))
	oldJournal := strings.TrimSpace(rec.Field(library.FieldJournal))

	if title == "" {
		stats.Checked++
		stats.Review++
		stats.ReviewNoTitle++
		d.writeOutcome(ctx, rec, types.TagReview, stats, details)
		*details = append(*details, fmt.Sprintf("review(no_title) | key:%s", rec.Key()))
		return
	}

	if textmatch.ContainsCJK(title) || textmatch.ContainsCJK(oldJournal) {
		stats.SkippedCN++
		if !d.Config.DryRun {
			clearOutcomeTags(rec)
			rec.AddTag(types.TagCNQueue)
			if err := rec.Save(ctx); err == nil {
				stats.CNTagged++
			} else {
				d.Log.Warn().Str("key", rec.Key()).Err(err).Msg("cn queue tag save failed")
			}
		}
		*details = append(*details, fmt.Sprintf("skip(cn) | %s", clip(title, 68)))
		return
	}

	stats.Checked++

	oldDOI := types.NormalizeDOI(rec.Field(library.FieldDOI))
	oldYear := types.ExtractYear(rec.Field(library.FieldDate))
	q := types.Query{
		Title:          title,
		AuthorLastName: firstAuthorLastName(rec.Creators()),
		Year:           oldYear,
		ExistingDOI:    oldDOI,
	}

	res := d.Engine.Resolve(ctx, q)

	if res.Status != types.StatusOK {
		reason := res.Reason
		if reason == "" {
			reason = types.ReasonLowScore
		}
		outcome := types.TagReview
		switch reason {
		case types.ReasonNoJournal:
			stats.Review++
			stats.ReviewNoJournal++
		case types.ReasonRepoSource:
			stats.Review++
			stats.ReviewRepoSource++
		case types.ReasonFallbackNoDOI:
			stats.Review++
			stats.ReviewFallbackNoDOI++
		case types.ReasonNoTitle:
			stats.Review++
			stats.ReviewNoTitle++
		default:
			// No provider produced a confident hit; distinct marker so
			// reviewers can separate misses from vetoed matches.
			stats.NoHit++
			stats.ReviewLowScore++
			outcome = types.TagNoHit
		}
		d.writeOutcome(ctx, rec, outcome, stats, details)

		candDOI, candJournal := "-", "-"
		if res.Candidate != nil {
			if res.Candidate.DOI != "" {
				candDOI = res.Candidate.DOI
			}
			if res.Candidate.Journal != "" {
				candJournal = res.Candidate.Journal
			}
		}
		*details = append(*details, fmt.Sprintf("review(%s) | %s | doi:%s | journal:%s", reason, clip(title, 68), candDOI, candJournal))
		_ = d.sleep(ctx, d.Config.RecordDelay)
		return
	}

	c := res.Candidate
	changed := false
	if oldDOI == "" && c.DOI != "" {
		rec.SetField(library.FieldDOI, c.DOI)
		changed = true
	}
	if oldJournal == "" && c.Journal != "" {
		rec.SetField(library.FieldJournal, c.Journal)
		changed = true
	}
	if oldYear == 0 && c.Year != 0 {
		rec.SetField(library.FieldDate, strconv.Itoa(c.Year))
		changed = true
	}

	d.writeOutcome(ctx, rec, types.TagOK, stats, details)

	switch res.Provider {
	case types.ProviderCrossref:
		stats.AcceptedCrossref++
	case types.ProviderOpenAlex:
		stats.AcceptedOpenAlex++
	case types.ProviderSemantic:
		stats.AcceptedSemantic++
	}
	if changed {
		stats.Updated++
	} else {
		stats.Unchanged++
	}

	line := fmt.Sprintf("%s | %s -> DOI:%s | Journal:%s", res.Provider, clip(title, 68), orDash(c.DOI), orDash(c.Journal))
	if len(*sample) < d.Config.SampleShow {
		*sample = append(*sample, line)
	}
	*details = append(*details, line)
	d.Log.Debug().Str("key", rec.Key()).Str("provider", string(res.Provider)).Float64("score", res.Score).Msg("record enriched")
	_ = d.sleep(ctx, d.Config.RecordDelay)
}

// writeOutcome replaces the record's outcome markers with tag and
// saves. A save failure counts the record as failed.
func (d *Driver) writeOutcome(ctx context.Context, rec library.Record, tag string, stats *Stats, details *[]string) {
	if d.Config.DryRun {
		return
	}
	clearOutcomeTags(rec)
	rec.AddTag(tag)
	if err := rec.Save(ctx); err != nil {
		stats.Failed++
		*details = append(*details, fmt.Sprintf("fail | key:%s | save: %v", rec.Key(), err))
		d.Log.Warn().Str("key", rec.Key()).Err(err).Msg("record save failed")
	}
}

// clearOutcomeTags removes every marker from previous runs so the
// record always carries exactly one current outcome.
func clearOutcomeTags(rec library.Record) {
	for _, tag := range rec.Tags() {
		if strings.HasPrefix(tag, types.MetaTagPrefix) {
			rec.RemoveTag(tag)
		}
	}
}

func firstAuthorLastName(creators []library.Creator) string {
	for _, c := range creators {
		if c.LastName != "" {
			return c.LastName
		}
		if c.Name != "" {
			if last := textmatch.LastName(c.Name); last != "" {
				return last
			}
		}
	}
	return ""
}

// clip truncates to n runes; report lines must stay valid UTF-8 for
// non-ASCII titles.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// providerStatsLines renders the limiter's per-provider counters as
// report lines. A nil limiter contributes nothing.
func providerStatsLines(l *ratelimit.Limiter) []string {
	if l == nil {
		return nil
	}
	var out []string
	for _, name := range l.Providers() {
		st := l.Stats(name)
		out = append(out, fmt.Sprintf("provider_%s: calls=%d, ok=%d, err429=%d, err_other=%d, cooldown=%s",
			name, st.Calls, st.OK, st.Err429, st.ErrOther, st.Cooldown))
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (d *Driver) report(stats Stats, sample, details []string) string {
	lines := []string{
		fmt.Sprintf("time=%s", d.now().UTC().Format("2006-01-02 15:04:05")),
		fmt.Sprintf("dry_run=%t, only_missing_fields=%t", d.Config.DryRun, d.Config.OnlyMissingFields),
		fmt.Sprintf("auto_loop=%t, batch_size=%d, max_batches=%d", d.Config.AutoLoop, d.Config.BatchSize, d.Config.MaxBatches),
		fmt.Sprintf("dedupe_within_run=%t", d.Config.DedupeWithinRun),
		fmt.Sprintf("pipeline=Crossref -> OpenAlex(%t) -> SemanticScholar(%t)", d.Resolve.EnableOpenAlex, d.Resolve.EnableSemantic),
		fmt.Sprintf("thresholds: crossref=%.2f, fallback=%.2f", d.Resolve.MinScorePrimary, d.Resolve.MinScoreFallback),
		fmt.Sprintf("last_total_candidates=%d, processed_total=%d, batches_done=%d", stats.TotalCandidates, stats.ProcessedTotal, stats.BatchesDone),
		fmt.Sprintf("checked=%d, unique_checked=%d, skipped_cn=%d, cn_tagged=%d, updated=%d, unchanged=%d, nohit=%d, review=%d, failed=%d, review_rate=%.2f%%",
			stats.Checked, stats.UniqueChecked, stats.SkippedCN, stats.CNTagged, stats.Updated, stats.Unchanged, stats.NoHit, stats.Review, stats.Failed, stats.ReviewRate()),
		fmt.Sprintf("provider_accept: crossref=%d, openalex=%d, semantic=%d", stats.AcceptedCrossref, stats.AcceptedOpenAlex, stats.AcceptedSemantic),
		fmt.Sprintf("review_reasons: no_title=%d, low_score=%d, no_journal=%d, repo_source=%d, fallback_no_doi=%d",
			stats.ReviewNoTitle, stats.ReviewLowScore, stats.ReviewNoJournal, stats.ReviewRepoSource, stats.ReviewFallbackNoDOI),
	}
	lines = append(lines, providerStatsLines(d.Limiter)...)
	if len(sample) > 0 {
		lines = append(lines, "", "sample:")
		lines = append(lines, sample...)
	}
	lines = append(lines, "", "details:")
	lines = append(lines, details...)
	return strings.Join(lines, "\n")
}
