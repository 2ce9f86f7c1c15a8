// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich holds the batch drivers: metadata enrichment, rule
// tagging, and LLM tagging. Each driver walks eligible records in
// bounded batches, applies its per-record pipeline, and emits a
// key=value end-of-run report.
package enrich

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteRunLog persists a run report under dir as prefix_TIMESTAMP.log
// and returns the file path. The directory is created if missing.
func WriteRunLog(dir, prefix string, now time.Time, text string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}
	stamp := now.UTC().Format("2006-01-02_15-04-05")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, stamp))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing run log: %w", err)
	}
	return path, nil
}

// formatDuration renders a duration as "1h 2m 3s" for progress lines.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	t := int(d.Seconds())
	return fmt.Sprintf("%dh %dm %ds", t/3600, (t%3600)/60, t%60)
}
