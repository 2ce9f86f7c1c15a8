// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

// semanticAPIBase is the Semantic Scholar Graph paper endpoint. Declared as
// a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper"

const (
	semanticFields         = "title,year,journal,externalIds,authors"
	semanticAbstractFields = "title,abstract,year,journal,externalIds"
)

// SemanticScholar queries the Semantic Scholar Graph API, the second
// fallback provider. The official policy is 1 request/second across all
// endpoints; the rate limiter keeps a safety margin above that.
type SemanticScholar struct {
	Client *httpjson.Client
	// APIKey is optional and raises the rate limit when present.
	APIKey string
}

// Name returns the provider identifier.
func (p *SemanticScholar) Name() types.Provider { return types.ProviderSemantic }

func (p *SemanticScholar) headers() map[string]string {
	if p.APIKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": p.APIKey}
}

// ByDOI fetches a paper via the DOI: prefix form. A 404 is a miss.
func (p *SemanticScholar) ByDOI(ctx context.Context, doi string) (*types.Candidate, error) {
	id := url.PathEscape("DOI:" + types.NormalizeDOI(doi))
	reqURL := semanticAPIBase + "/" + id + "?fields=" + url.QueryEscape(semanticFields)

	var paper semanticPaper
	if err := p.Client.GetJSON(ctx, string(p.Name()), reqURL, p.headers(), &paper); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("semantic scholar DOI lookup: %w", err)
	}

	c := normalizeSemanticPaper(paper)
	if c.IsZero() {
		return nil, nil
	}
	return &c, nil
}

// ByTitleAuthorYear searches papers by title.
func (p *SemanticScholar) ByTitleAuthorYear(ctx context.Context, title, _ string, _ int) ([]types.Candidate, error) {
	params := url.Values{
		"query":  {title},
		"limit":  {fmt.Sprintf("%d", maxRows)},
		"fields": {semanticFields},
	}

	var resp semanticSearchResponse
	if err := p.Client.GetJSON(ctx, string(p.Name()), semanticAPIBase+"/search?"+params.Encode(), p.headers(), &resp); err != nil {
		return nil, fmt.Errorf("semantic scholar search: %w", err)
	}

	candidates := make([]types.Candidate, 0, len(resp.Data))
	for _, paper := range resp.Data {
		if c := normalizeSemanticPaper(paper); !c.IsZero() {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// AbstractByDOI returns the paper abstract for doi, or "" on a miss.
func (p *SemanticScholar) AbstractByDOI(ctx context.Context, doi string) (string, error) {
	id := url.PathEscape("DOI:" + types.NormalizeDOI(doi))
	reqURL := semanticAPIBase + "/" + id + "?fields=" + url.QueryEscape(semanticAbstractFields)

	var paper semanticPaper
	if err := p.Client.GetJSON(ctx, string(p.Name()), reqURL, p.headers(), &paper); err != nil {
		if notFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("semantic scholar abstract lookup: %w", err)
	}
	return strings.TrimSpace(paper.Abstract), nil
}

// AbstractByTitle returns the top search hit's abstract.
func (p *SemanticScholar) AbstractByTitle(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"query":  {title},
		"limit":  {"1"},
		"fields": {semanticAbstractFields},
	}

	var resp semanticSearchResponse
	if err := p.Client.GetJSON(ctx, string(p.Name()), semanticAPIBase+"/search?"+params.Encode(), p.headers(), &resp); err != nil {
		return "", fmt.Errorf("semantic scholar abstract search: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Data[0].Abstract), nil
}

// AbstractsByDOI fetches abstracts for many DOIs in one POST to the batch
// endpoint. The result maps the lowercased DOI key to its abstract;
// papers the API could not resolve are absent.
func (p *SemanticScholar) AbstractsByDOI(ctx context.Context, dois []string) (map[string]string, error) {
	if len(dois) == 0 {
		return map[string]string{}, nil
	}

	ids := make([]string, 0, len(dois))
	for _, d := range dois {
		ids = append(ids, "DOI:"+types.NormalizeDOI(d))
	}
	reqURL := semanticAPIBase + "/batch?fields=" + url.QueryEscape(semanticAbstractFields)
	body := map[string]any{"ids": ids}

	var papers []*semanticPaper
	if err := p.Client.PostJSON(ctx, string(p.Name()), reqURL, body, &papers, p.headers()); err != nil {
		return nil, fmt.Errorf("semantic scholar batch: %w", err)
	}

	out := make(map[string]string, len(papers))
	for _, paper := range papers {
		// The batch endpoint returns null for unresolved ids.
		if paper == nil || paper.ExternalIDs.DOI == "" {
			continue
		}
		if abs := strings.TrimSpace(paper.Abstract); abs != "" {
			out[types.DOIKey(paper.ExternalIDs.DOI)] = abs
		}
	}
	return out, nil
}

// normalizeSemanticPaper maps a Semantic Scholar paper into the common
// candidate shape.
func normalizeSemanticPaper(paper semanticPaper) types.Candidate {
	c := types.Candidate{
		Source:  types.ProviderSemantic,
		Title:   paper.Title,
		DOI:     types.NormalizeDOI(paper.ExternalIDs.DOI),
		Journal: strings.TrimSpace(paper.Journal.Name),
		Year:    paper.Year,
	}
	var names []string
	for _, a := range paper.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	c.Authors = textmatch.ToLastNames(names)
	return c
}

// Semantic Scholar API JSON structures.
type semanticSearchResponse struct {
	Data []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID     string              `json:"paperId"`
	Title       string              `json:"title"`
	Abstract    string              `json:"abstract"`
	Year        int                 `json:"year"`
	Journal     semanticJournal     `json:"journal"`
	Authors     []semanticAuthor    `json:"authors"`
	ExternalIDs semanticExternalIDs `json:"externalIds"`
}

type semanticJournal struct {
	Name string `json:"name"`
}

type semanticAuthor struct {
	Name string `json:"name"`
}

type semanticExternalIDs struct {
	DOI string `json:"DOI"`
}
