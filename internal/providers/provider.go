// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package providers queries external scholarly metadata APIs and normalizes
// their heterogeneous responses into the common candidate shape. Each
// adapter implements the Provider interface per the Strategy pattern so the
// resolution engine can walk them in priority order.
package providers

import (
	"context"
	"net/http"

	"github.com/pdiddy/bibfix/internal/httpjson"
	"github.com/pdiddy/bibfix/pkg/types"
)

// maxRows caps fuzzy-search result counts; providers return their own
// relevance ordering and five rows is enough for the scorer.
const maxRows = 5

// Provider resolves bibliographic metadata from one external source.
// ByDOI is an exact identifier lookup and returns (nil, nil) on a miss;
// ByTitleAuthorYear is a fuzzy search returning at most maxRows candidates
// in the provider's own ranking.
type Provider interface {
	Name() types.Provider
	ByDOI(ctx context.Context, doi string) (*types.Candidate, error)
	ByTitleAuthorYear(ctx context.Context, title, authorLastName string, year int) ([]types.Candidate, error)
}

// notFound reports whether err is an HTTP 404, which adapters translate
// into a plain miss rather than a failure.
func notFound(err error) bool {
	return httpjson.Status(err) == http.StatusNotFound
}
