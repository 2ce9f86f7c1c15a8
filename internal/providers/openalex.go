// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

// openAlexAPIBase is the OpenAlex Works endpoint. Declared as a var so
// tests can substitute an httptest server.
var openAlexAPIBase = "https://api.openalex.org/works"

// OpenAlex queries the OpenAlex Works API, the first fallback provider.
type OpenAlex struct {
	Client *httpjson.Client
	// Mailto is sent for polite pool access.
	Mailto string
}

// Name returns the provider identifier.
func (p *OpenAlex) Name() types.Provider { return types.ProviderOpenAlex }

// ByDOI fetches a work by its DOI URL form. A 404 is a miss, not an error.
func (p *OpenAlex) ByDOI(ctx context.Context, doi string) (*types.Candidate, error) {
	w, err := p.workByDOI(ctx, doi)
	if err != nil || w == nil {
		return nil, err
	}
	c := normalizeOpenAlexWork(*w)
	if c.IsZero() {
		return nil, nil
	}
	return &c, nil
}

// ByTitleAuthorYear searches works by title. OpenAlex relevance ranking is
// title-driven, so author and year only feed the scorer.
func (p *OpenAlex) ByTitleAuthorYear(ctx context.Context, title, _ string, _ int) ([]types.Candidate, error) {
	works, err := p.searchWorks(ctx, title, maxRows)
	if err != nil {
		return nil, err
	}
	candidates := make([]types.Candidate, 0, len(works))
	for _, w := range works {
		if c := normalizeOpenAlexWork(w); !c.IsZero() {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// AbstractByDOI returns the reconstructed abstract for doi, or "" on a miss.
func (p *OpenAlex) AbstractByDOI(ctx context.Context, doi string) (string, error) {
	w, err := p.workByDOI(ctx, doi)
	if err != nil || w == nil {
		return "", err
	}
	return reconstructAbstract(w.AbstractInvertedIndex), nil
}

// AbstractByTitle returns the top search hit's reconstructed abstract.
func (p *OpenAlex) AbstractByTitle(ctx context.Context, title string) (string, error) {
	works, err := p.searchWorks(ctx, title, 1)
	if err != nil || len(works) == 0 {
		return "", err
	}
	return reconstructAbstract(works[0].AbstractInvertedIndex), nil
}

func (p *OpenAlex) workByDOI(ctx context.Context, doi string) (*openAlexWork, error) {
	id := url.PathEscape("https://doi.org/" + types.NormalizeDOI(doi))
	reqURL := openAlexAPIBase + "/" + id
	if p.Mailto != "" {
		reqURL += "?mailto=" + url.QueryEscape(p.Mailto)
	}

	var w openAlexWork
	if err := p.Client.GetJSON(ctx, string(p.Name()), reqURL, nil, &w); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("openalex DOI lookup: %w", err)
	}
	return &w, nil
}

func (p *OpenAlex) searchWorks(ctx context.Context, title string, limit int) ([]openAlexWork, error) {
	params := url.Values{
		"search":   {title},
		"per-page": {fmt.Sprintf("%d", limit)},
	}
	if p.Mailto != "" {
		params.Set("mailto", p.Mailto)
	}

	var resp openAlexResponse
	if err := p.Client.GetJSON(ctx, string(p.Name()), openAlexAPIBase+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("openalex search: %w", err)
	}
	return resp.Results, nil
}

// normalizeOpenAlexWork maps an OpenAlex work into the common candidate
// shape, stripping the https://doi.org/ prefix OpenAlex uses for DOIs.
func normalizeOpenAlexWork(w openAlexWork) types.Candidate {
	c := types.Candidate{
		Source:  types.ProviderOpenAlex,
		Title:   w.DisplayName,
		DOI:     types.NormalizeDOI(w.DOI),
		Journal: strings.TrimSpace(w.PrimaryLocation.Source.DisplayName),
		Year:    w.PublicationYear,
	}
	var names []string
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			names = append(names, a.Author.DisplayName)
		}
	}
	c.Authors = textmatch.ToLastNames(names)
	return c
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func reconstructAbstract(inv map[string][]int) string {
	if len(inv) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range inv {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	DisplayName           string               `json:"display_name"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
}

type openAlexLocation struct {
	Source openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}
