// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package resolve implements the provider waterfall. Providers are
// consulted in priority order and every terminal outcome is either an
// accept or a needs-review classification. The walk is linear; once a
// decision is reached no earlier provider is revisited.
package resolve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/bibfix/internal/providers"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

// Engine walks providers in priority order. The first provider is the
// primary and gets the strict threshold; the rest are fallbacks with the
// lenient threshold plus the no-DOI veto.
type Engine struct {
	chain  []providers.Provider
	cfg    types.ResolveConfig
	repoRe *regexp.Regexp
	log    zerolog.Logger
}

// New compiles the repo-source patterns and builds the engine. The chain
// must contain at least the primary provider.
func New(chain []providers.Provider, cfg types.ResolveConfig, log zerolog.Logger) (*Engine, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("resolve: empty provider chain")
	}
	patterns := cfg.RepoSourcePatterns
	if len(patterns) == 0 {
		patterns = types.DefaultResolveConfig().RepoSourcePatterns
	}
	repoRe, err := regexp.Compile("(?i)(" + strings.Join(patterns, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("resolve: compiling repo-source patterns: %w", err)
	}
	return &Engine{chain: chain, cfg: cfg, repoRe: repoRe, log: log}, nil
}

// isRepoLike reports whether the venue name matches a repository or
// preprint pattern. Such venues must not be recorded as journals.
func (e *Engine) isRepoLike(journal string) bool {
	return journal != "" && e.repoRe.MatchString(journal)
}

// Resolve classifies one record. Provider errors are logged and fall
// through to the next provider in the chain; DOI lookups are authoritative
// and carry score 1.
func (e *Engine) Resolve(ctx context.Context, q types.Query) types.Resolution {
	if strings.TrimSpace(q.Title) == "" {
		return types.Resolution{Status: types.StatusReview, Reason: types.ReasonNoTitle}
	}

	for i, p := range e.chain {
		primary := i == 0
		var res *types.Resolution
		if q.ExistingDOI != "" {
			res = e.tryByDOI(ctx, p, q, primary)
		} else {
			res = e.tryBySearch(ctx, p, q, primary)
		}
		if res != nil {
			return *res
		}
	}

	return types.Resolution{Status: types.StatusReview, Reason: types.ReasonLowScore}
}

func (e *Engine) tryByDOI(ctx context.Context, p providers.Provider, q types.Query, primary bool) *types.Resolution {
	c, err := p.ByDOI(ctx, q.ExistingDOI)
	if err != nil {
		e.log.Debug().Str("provider", string(p.Name())).Err(err).Msg("doi lookup failed, trying next provider")
		return nil
	}
	if c == nil {
		return nil
	}
	return e.classify(p, c, 1, primary, true)
}

func (e *Engine) tryBySearch(ctx context.Context, p providers.Provider, q types.Query, primary bool) *types.Resolution {
	candidates, err := p.ByTitleAuthorYear(ctx, q.Title, q.AuthorLastName, q.Year)
	if err != nil {
		e.log.Debug().Str("provider", string(p.Name())).Err(err).Msg("search failed, trying next provider")
		return nil
	}

	best, score := textmatch.PickBest(q, candidates)
	if best == nil || score < e.threshold(primary) {
		return nil
	}
	return e.classify(p, best, score, primary, false)
}

// classify applies the acceptance vetoes in fixed order: a match without a
// journal needs review; a fallback match without a DOI is low-trust; a
// repository-like venue must not become the journal field. A DOI hit on the
// primary provider is registrar-confirmed, so only the journal check applies
// there.
func (e *Engine) classify(p providers.Provider, c *types.Candidate, score float64, primary, viaDOI bool) *types.Resolution {
	review := func(reason types.ReviewReason) *types.Resolution {
		return &types.Resolution{Status: types.StatusReview, Reason: reason, Candidate: c, Score: score}
	}

	if c.Journal == "" {
		return review(types.ReasonNoJournal)
	}
	if !primary && c.DOI == "" {
		return review(types.ReasonFallbackNoDOI)
	}
	if !(primary && viaDOI) && e.isRepoLike(c.Journal) {
		return review(types.ReasonRepoSource)
	}
	return &types.Resolution{
		Status:    types.StatusOK,
		Provider:  p.Name(),
		Candidate: c,
		Score:     score,
	}
}

func (e *Engine) threshold(primary bool) float64 {
	if primary {
		return e.cfg.MinScorePrimary
	}
	return e.cfg.MinScoreFallback
}
