// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package textmatch provides the text normalization and similarity scoring
// used to rank provider candidates against a query record. All functions are
// pure and deterministic.
package textmatch

import (
	"strings"
	"unicode"

	"github.com/pdiddy/bibfix/pkg/types"
)

// Scoring weights. Title dominates because it is the most discriminating
// low-noise signal across providers; author match is binary to avoid false
// positives from common surnames; year is lowest because it is frequently
// missing or approximate.
const (
	weightTitle  = 0.70
	weightAuthor = 0.20
	weightYear   = 0.10
)

// yearUnknownCredit is the partial credit given when either year is unknown,
// so missing dates are not penalized to zero.
const yearUnknownCredit = 0.2

// Normalize lowercases s, strips everything that is not a Unicode letter,
// digit, or whitespace, and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokenize splits normalized text into a token set, dropping tokens of
// length <= 1. Empty input yields an empty set.
func Tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.Fields(Normalize(s)) {
		if len(t) > 1 {
			tokens[t] = struct{}{}
		}
	}
	return tokens
}

// Jaccard returns the token-set similarity of a and b in [0,1]. Either side
// empty yields 0: no tokens, no match credit.
func Jaccard(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

// AuthorMatch returns 1 iff the normalized query last name exactly equals
// some normalized candidate author name, 0 otherwise. An empty query last
// name never matches.
func AuthorMatch(queryLastName string, candidateAuthors []string) float64 {
	q := Normalize(queryLastName)
	if q == "" {
		return 0
	}
	for _, a := range candidateAuthors {
		if Normalize(a) == q {
			return 1
		}
	}
	return 0
}

// YearProximity returns 1 when the years are within one of each other, 0
// when both are known and further apart, and partial credit when either is
// unknown (zero).
func YearProximity(queryYear, candidateYear int) float64 {
	if queryYear == 0 || candidateYear == 0 {
		return yearUnknownCredit
	}
	diff := queryYear - candidateYear
	if diff < 0 {
		diff = -diff
	}
	if diff <= 1 {
		return 1
	}
	return 0
}

// Score computes the weighted similarity of a candidate against the query:
// 0.70·title + 0.20·author + 0.10·year.
func Score(q types.Query, c types.Candidate) float64 {
	return weightTitle*Jaccard(q.Title, c.Title) +
		weightAuthor*AuthorMatch(q.AuthorLastName, c.Authors) +
		weightYear*YearProximity(q.Year, c.Year)
}

// PickBest scans candidates and returns the highest-scoring one. The strict
// > comparison means the first maximal candidate wins ties, preserving the
// provider's own relevance order. Returns (nil, -1) for an empty slice.
func PickBest(q types.Query, candidates []types.Candidate) (*types.Candidate, float64) {
	var best *types.Candidate
	bestScore := -1.0
	for i := range candidates {
		if s := Score(q, candidates[i]); s > bestScore {
			best = &candidates[i]
			bestScore = s
		}
	}
	return best, bestScore
}

// ContainsCJK reports whether s contains characters in the CJK unified
// ideograph range. Records with CJK titles or journals are routed to the
// non-English queue.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x3400 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// LastName returns the final whitespace-separated part of a full name,
// which is how provider author lists are reduced to last names.
func LastName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ToLastNames maps full author names to last names, dropping empties.
func ToLastNames(names []string) []string {
	var out []string
	for _, n := range names {
		if ln := LastName(n); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
