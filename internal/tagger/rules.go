// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tagger

import (
	"fmt"
	"regexp"
	"strings"
)

type compiledRule struct {
	dim string
	tag string
	re  *regexp.Regexp
}

// RuleTagger matches the vocabulary's regex table against record text.
type RuleTagger struct {
	rules   []compiledRule
	maxTags int
}

// NewRuleTagger compiles the vocabulary. maxTags caps how many tags one
// record may receive; zero or negative means no cap.
func NewRuleTagger(v Vocabulary, maxTags int) (*RuleTagger, error) {
	rules := make([]compiledRule, 0, len(v.Rules))
	for _, r := range v.Rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %s: %w", r.Tag, err)
		}
		rules = append(rules, compiledRule{dim: r.Dim, tag: r.Tag, re: re})
	}
	return &RuleTagger{rules: rules, maxTags: maxTags}, nil
}

// PickTags returns the tags for text, coverage first: one tag per
// dimension in dimension order, then extras in rule order until the cap.
// Returns nil when nothing matches.
func (t *RuleTagger) PickTags(text string) []string {
	text = strings.ToLower(text)

	matched := make(map[string]bool, len(t.rules))
	firstByDim := make(map[string]string, len(dimensions))
	for _, r := range t.rules {
		if !r.re.MatchString(text) {
			continue
		}
		matched[r.tag] = true
		if _, ok := firstByDim[r.dim]; !ok {
			firstByDim[r.dim] = r.tag
		}
	}
	if len(matched) == 0 {
		return nil
	}

	var selected []string
	taken := make(map[string]bool, len(matched))
	for _, dim := range dimensions {
		if tag, ok := firstByDim[dim]; ok {
			selected = append(selected, tag)
			taken[tag] = true
		}
	}
	for _, r := range t.rules {
		if t.maxTags > 0 && len(selected) >= t.maxTags {
			break
		}
		if matched[r.tag] && !taken[r.tag] {
			selected = append(selected, r.tag)
			taken[r.tag] = true
		}
	}
	if t.maxTags > 0 && len(selected) > t.maxTags {
		selected = selected[:t.maxTags]
	}
	return selected
}
