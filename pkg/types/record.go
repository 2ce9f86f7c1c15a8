// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data model for the bibfix pipeline:
// provider candidates, resolution outcomes, and stage configuration.
package types

import (
	"regexp"
	"strings"
)

// Provider identifies an external metadata source.
type Provider string

const (
	ProviderCrossref Provider = "crossref"
	ProviderOpenAlex Provider = "openalex"
	ProviderSemantic Provider = "semantic"
)

// Outcome tags written to records after a run. A record carries at most one
// of these at a time; the driver clears the previous marker before tagging.
const (
	TagOK      = "/meta_ok"
	TagReview  = "/meta_review"
	TagCNQueue = "/meta_cn_queue"
	TagNoHit   = "/meta_nohit"
	TagFail    = "/meta_fail"

	// MetaTagPrefix covers every outcome marker above.
	MetaTagPrefix = "/meta_"

	// TagLLMUntagged marks records queued for LLM tagging.
	TagLLMUntagged = "/meta_llm_untagged"
)

// Query is a read-only search snapshot built from one record.
type Query struct {
	Title          string
	AuthorLastName string
	Year           int
	ExistingDOI    string
}

// Candidate is a provider result normalized into a common shape. The DOI is
// stripped of URL and "doi:" prefixes; Journal is HTML-entity-unescaped.
// Authors holds last names only.
type Candidate struct {
	Source  Provider `json:"source" yaml:"source"`
	Title   string   `json:"title" yaml:"title"`
	DOI     string   `json:"doi" yaml:"doi"`
	Journal string   `json:"journal" yaml:"journal"`
	Year    int      `json:"year" yaml:"year"`
	Authors []string `json:"authors" yaml:"authors"`
}

// IsZero reports whether the candidate carries no usable identity.
func (c Candidate) IsZero() bool {
	return c.Title == "" && c.DOI == ""
}

// ResolutionStatus is the terminal state of one record's resolution.
type ResolutionStatus string

const (
	StatusOK     ResolutionStatus = "ok"
	StatusReview ResolutionStatus = "review"
)

// ReviewReason explains why a record landed in the review queue.
type ReviewReason string

const (
	ReasonNoTitle       ReviewReason = "no_title"
	ReasonNoJournal     ReviewReason = "no_journal"
	ReasonRepoSource    ReviewReason = "repo_source"
	ReasonFallbackNoDOI ReviewReason = "fallback_no_doi"
	ReasonLowScore      ReviewReason = "low_score_or_no_hit"
)

// Resolution is the engine's decision for one record.
type Resolution struct {
	Status    ResolutionStatus `json:"status" yaml:"status"`
	Provider  Provider         `json:"provider,omitempty" yaml:"provider,omitempty"`
	Candidate *Candidate       `json:"candidate,omitempty" yaml:"candidate,omitempty"`
	Score     float64          `json:"score,omitempty" yaml:"score,omitempty"`
	Reason    ReviewReason     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

var (
	doiPrefixRe = regexp.MustCompile(`(?i)^https?://(dx\.)?doi\.org/`)
	doiSchemeRe = regexp.MustCompile(`(?i)^doi:\s*`)
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// NormalizeDOI strips URL and "doi:" prefixes from a raw DOI string. Case of
// the suffix is preserved; use DOIKey for comparisons.
func NormalizeDOI(raw string) string {
	s := strings.TrimSpace(raw)
	s = doiPrefixRe.ReplaceAllString(s, "")
	s = doiSchemeRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// DOIKey returns the comparison key for a DOI: prefix-stripped and
// lowercased. Two DOIs differing only in suffix case compare equal.
func DOIKey(raw string) string {
	return strings.ToLower(NormalizeDOI(raw))
}

// ExtractYear pulls the first plausible publication year (19xx/20xx) out of a
// free-form date string. Returns 0 when none is found.
func ExtractYear(dateStr string) int {
	m := yearRe.FindString(dateStr)
	if m == "" {
		return 0
	}
	year := 0
	for _, r := range m {
		year = year*10 + int(r-'0')
	}
	return year
}
