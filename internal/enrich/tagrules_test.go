package enrich

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/internal/library"
	"github.com/pdiddy/bibfix/internal/tagger"
	"github.com/pdiddy/bibfix/pkg/types"
)

func ruleTagConfig() types.TagConfig {
	cfg := types.DefaultTagConfig()
	cfg.DryRun = false
	return cfg
}

func newTestRuleDriver(t *testing.T, store library.Store, cfg types.TagConfig) *RuleTagDriver {
	t.Helper()
	rt, err := tagger.NewRuleTagger(tagger.DefaultVocabulary(), cfg.MaxTagsPerItem)
	if err != nil {
		t.Fatalf("NewRuleTagger: %v", err)
	}
	d := NewRuleTagDriver(store, rt, cfg, zerolog.Nop())
	d.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	return d
}

func TestRuleTagRun(t *testing.T) {
	store := newTestLibrary(t,
		library.Snapshot{
			Key:      "NV",
			Title:    "ODMR magnetometry with nitrogen-vacancy centers in diamond",
			DOI:      "10.1/nv",
			Journal:  "Physical Review Letters",
			Date:     "2020",
			Abstract: "We demonstrate magnetometry using optically detected magnetic resonance.",
		},
		library.Snapshot{
			Key: "NOMETA", Title: "A graphene gas sensor",
			// No DOI/journal/year, so the core-metadata gate skips it.
		},
		library.Snapshot{
			Key: "CN", Title: "光纤光栅传感器研究",
			DOI: "10.1/cn", Journal: "光学学报", Date: "2019",
		},
		library.Snapshot{
			Key: "PLAIN", Title: "Macroeconomic policy in small open economies",
			DOI: "10.1/econ", Journal: "Journal of Economics", Date: "2018",
		},
	)

	d := newTestRuleDriver(t, store, ruleTagConfig())
	var out bytes.Buffer
	stats, err := d.Run(context.Background(), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Checked != 2 {
		t.Errorf("checked = %d", stats.Checked)
	}
	if stats.TaggedItems != 1 || stats.ChangedItems != 1 {
		t.Errorf("tagged = %d, changed = %d", stats.TaggedItems, stats.ChangedItems)
	}
	if stats.SkippedCN != 1 || stats.SkippedNoMeta != 1 {
		t.Errorf("skipped_cn = %d, skipped_no_meta = %d", stats.SkippedCN, stats.SkippedNoMeta)
	}
	if stats.Untagged != 1 {
		t.Errorf("untagged = %d", stats.Untagged)
	}

	byKey := reloadByKey(t, store)
	nv := byKey["NV"]
	for _, want := range []string{"topic/nv_center", "method/odmr", "material/diamond_nv", "app/magnetometry"} {
		if !nv.HasTag(want) {
			t.Errorf("NV missing %q, tags = %v", want, nv.Tags())
		}
	}
	// Untagged records are routed into the LLM queue.
	if !byKey["PLAIN"].HasTag(types.TagLLMUntagged) {
		t.Errorf("PLAIN tags = %v", byKey["PLAIN"].Tags())
	}

	report := out.String()
	if !strings.Contains(report, "dim_coverage: topic=1, method=1, material=1, app=1") {
		t.Errorf("report missing dim coverage:\n%s", report)
	}
	if !strings.Contains(report, "topic/nv_center => 1") {
		t.Errorf("report missing top tag line:\n%s", report)
	}
}

func TestRuleTagDryRun(t *testing.T) {
	store := newTestLibrary(t, library.Snapshot{
		Key: "NV", Title: "ODMR magnetometry with nitrogen-vacancy centers",
		DOI: "10.1/nv", Journal: "PRL", Date: "2020",
	})

	cfg := ruleTagConfig()
	cfg.DryRun = true
	d := newTestRuleDriver(t, store, cfg)

	var out bytes.Buffer
	stats, err := d.Run(context.Background(), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.TaggedItems != 1 || stats.WouldChange != 1 || stats.ChangedItems != 0 {
		t.Errorf("stats = %+v", stats)
	}

	rec := reloadByKey(t, store)["NV"]
	if len(rec.Tags()) != 0 {
		t.Errorf("dry run persisted tags: %v", rec.Tags())
	}
}

func TestRuleTagClearOldRuleTags(t *testing.T) {
	store := newTestLibrary(t, library.Snapshot{
		Key: "NV", Title: "ODMR magnetometry with nitrogen-vacancy centers",
		DOI: "10.1/nv", Journal: "PRL", Date: "2020",
		Tags: []string{"topic/stale_topic", "/meta_ok"},
	})

	cfg := ruleTagConfig()
	cfg.ClearOldRuleTags = true
	d := newTestRuleDriver(t, store, cfg)

	var out bytes.Buffer
	if _, err := d.Run(context.Background(), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := reloadByKey(t, store)["NV"]
	if rec.HasTag("topic/stale_topic") {
		t.Errorf("stale rule tag kept: %v", rec.Tags())
	}
	if !rec.HasTag("/meta_ok") {
		t.Errorf("outcome marker must survive rule-tag rewrite: %v", rec.Tags())
	}
	if !rec.HasTag("topic/nv_center") {
		t.Errorf("tags = %v", rec.Tags())
	}
}

func TestRuleTagBatchWindows(t *testing.T) {
	snaps := []library.Snapshot{
		{Key: "A", Title: "graphene sensor", DOI: "10.1/a", Journal: "J", Date: "2020"},
		{Key: "B", Title: "graphene sensor", DOI: "10.1/b", Journal: "J", Date: "2020"},
		{Key: "C", Title: "graphene sensor", DOI: "10.1/c", Journal: "J", Date: "2020"},
	}
	store := newTestLibrary(t, snaps...)

	cfg := ruleTagConfig()
	cfg.BatchSize = 2
	cfg.AutoLoop = true
	cfg.MaxBatches = 5
	d := newTestRuleDriver(t, store, cfg)

	var out bytes.Buffer
	stats, err := d.Run(context.Background(), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.ProcessedTotal != 3 || stats.BatchesDone != 2 {
		t.Errorf("processed = %d, batches = %d", stats.ProcessedTotal, stats.BatchesDone)
	}
}
