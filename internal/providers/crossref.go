// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package providers

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/internal/textmatch"
	"github.com/pdiddy/bibfix/pkg/types"
)

// crossrefAPIBase is the Crossref Works endpoint. Declared as a var so
// tests can substitute an httptest server.
var crossrefAPIBase = "https://api.crossref.org/works"

// crossrefSelect trims the response to the fields the scorer needs.
const crossrefSelect = "DOI,title,container-title,issued,author,type,publisher"

// Crossref queries the Crossref Works API, the primary provider of the
// waterfall.
type Crossref struct {
	Client *httpjson.Client
	// Mailto joins the Crossref polite pool.
	Mailto string
}

// Name returns the provider identifier.
func (p *Crossref) Name() types.Provider { return types.ProviderCrossref }

// ByDOI fetches the work registered under doi. A 404 is a miss, not an error.
func (p *Crossref) ByDOI(ctx context.Context, doi string) (*types.Candidate, error) {
	reqURL := crossrefAPIBase + "/" + url.PathEscape(types.NormalizeDOI(doi))
	if p.Mailto != "" {
		reqURL += "?mailto=" + url.QueryEscape(p.Mailto)
	}

	var cr crossrefSingleResponse
	if err := p.Client.GetJSON(ctx, string(p.Name()), reqURL, nil, &cr); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("crossref DOI lookup: %w", err)
	}

	c := normalizeCrossrefWork(cr.Message)
	if c.IsZero() {
		return nil, nil
	}
	return &c, nil
}

// ByTitleAuthorYear runs a bibliographic search constrained to a ±1 year
// publication window when the year is known.
func (p *Crossref) ByTitleAuthorYear(ctx context.Context, title, authorLastName string, year int) ([]types.Candidate, error) {
	params := url.Values{
		"query.bibliographic": {title},
		"rows":                {fmt.Sprintf("%d", maxRows)},
		"select":              {crossrefSelect},
	}
	if authorLastName != "" {
		params.Set("query.author", authorLastName)
	}
	if p.Mailto != "" {
		params.Set("mailto", p.Mailto)
	}
	if year > 0 {
		params.Set("filter", fmt.Sprintf("from-pub-date:%d,until-pub-date:%d", year-1, year+1))
	}

	var cr crossrefSearchResponse
	if err := p.Client.GetJSON(ctx, string(p.Name()), crossrefAPIBase+"?"+params.Encode(), nil, &cr); err != nil {
		return nil, fmt.Errorf("crossref search: %w", err)
	}

	candidates := make([]types.Candidate, 0, len(cr.Message.Items))
	for _, w := range cr.Message.Items {
		if c := normalizeCrossrefWork(w); !c.IsZero() {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// normalizeCrossrefWork maps a Crossref work into the common candidate
// shape. Every access tolerates missing fields.
func normalizeCrossrefWork(w crossrefWork) types.Candidate {
	c := types.Candidate{
		Source: types.ProviderCrossref,
		DOI:    types.NormalizeDOI(w.DOI),
	}
	if len(w.Title) > 0 {
		c.Title = w.Title[0]
	}
	if len(w.ContainerTitle) > 0 {
		c.Journal = strings.TrimSpace(html.UnescapeString(w.ContainerTitle[0]))
	}
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		c.Year = w.Issued.DateParts[0][0]
	}
	var names []string
	for _, a := range w.Author {
		switch {
		case a.Family != "":
			names = append(names, a.Family)
		case a.Name != "":
			names = append(names, a.Name)
		}
	}
	c.Authors = textmatch.ToLastNames(names)
	return c
}

// Crossref API JSON structures.
type crossrefSingleResponse struct {
	Message crossrefWork `json:"message"`
}

type crossrefSearchResponse struct {
	Message struct {
		Items []crossrefWork `json:"items"`
	} `json:"message"`
}

type crossrefWork struct {
	DOI            string         `json:"DOI"`
	Title          []string       `json:"title"`
	ContainerTitle []string       `json:"container-title"`
	Issued         crossrefDate   `json:"issued"`
	Author         []crossrefName `json:"author"`
	Type           string         `json:"type"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

type crossrefName struct {
	Family string `json:"family"`
	Given  string `json:"given"`
	Name   string `json:"name"`
}
