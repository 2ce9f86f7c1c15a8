package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pdiddy/bibfix/pkg/types"
)

const openAlexSearchBody = `{
  "results": [
    {
      "id": "https://openalex.org/W1",
      "display_name": "Graphene Gas Sensors",
      "doi": "https://doi.org/10.1021/acs.1c01234",
      "publication_year": 2021,
      "primary_location": {"source": {"display_name": " Nano Letters "}},
      "authorships": [
        {"author": {"display_name": "Wei Chen"}},
        {"author": {"display_name": ""}}
      ],
      "abstract_inverted_index": {"sensors": [2], "graphene": [0], "gas": [1]}
    }
  ]
}`

func TestOpenAlexByTitleAuthorYear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("search"); q != "graphene gas sensors" {
			t.Errorf("search = %q", q)
		}
		if n := r.URL.Query().Get("per-page"); n != "5" {
			t.Errorf("per-page = %q", n)
		}
		w.Write([]byte(openAlexSearchBody))
	}))
	defer srv.Close()

	orig := openAlexAPIBase
	openAlexAPIBase = srv.URL
	defer func() { openAlexAPIBase = orig }()

	p := &OpenAlex{Client: newTestHTTPClient(t), Mailto: "ops@example.org"}
	candidates, err := p.ByTitleAuthorYear(context.Background(), "graphene gas sensors", "Chen", 2021)
	if err != nil {
		t.Fatalf("ByTitleAuthorYear: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d", len(candidates))
	}

	c := candidates[0]
	if c.Source != types.ProviderOpenAlex {
		t.Errorf("source = %q", c.Source)
	}
	if c.DOI != "10.1021/acs.1c01234" {
		t.Errorf("doi = %q (URL prefix must be stripped)", c.DOI)
	}
	if c.Journal != "Nano Letters" {
		t.Errorf("journal = %q", c.Journal)
	}
	if len(c.Authors) != 1 || c.Authors[0] != "Chen" {
		t.Errorf("authors = %v", c.Authors)
	}
}

func TestOpenAlexByDOIEncodesDOIURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"display_name": "A Paper", "doi": "https://doi.org/10.1/x", "publication_year": 2020}`))
	}))
	defer srv.Close()

	orig := openAlexAPIBase
	openAlexAPIBase = srv.URL
	defer func() { openAlexAPIBase = orig }()

	p := &OpenAlex{Client: newTestHTTPClient(t)}
	c, err := p.ByDOI(context.Background(), "10.1/x")
	if err != nil {
		t.Fatalf("ByDOI: %v", err)
	}
	if c == nil || c.Title != "A Paper" {
		t.Errorf("candidate = %+v", c)
	}
	if gotPath != "/"+"https:%2F%2Fdoi.org%2F10.1%2Fx" {
		t.Errorf("path = %q, want DOI URL path-escaped", gotPath)
	}
}

func TestReconstructAbstract(t *testing.T) {
	inv := map[string][]int{
		"the":    {0, 3},
		"sensor": {1},
		"beats":  {2},
		"noise":  {4},
	}
	if got := reconstructAbstract(inv); got != "the sensor beats the noise" {
		t.Errorf("reconstructAbstract = %q", got)
	}
	if got := reconstructAbstract(nil); got != "" {
		t.Errorf("reconstructAbstract(nil) = %q", got)
	}
}

func TestOpenAlexAbstractByTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n := r.URL.Query().Get("per-page"); n != "1" {
			t.Errorf("per-page = %q", n)
		}
		w.Write([]byte(openAlexSearchBody))
	}))
	defer srv.Close()

	orig := openAlexAPIBase
	openAlexAPIBase = srv.URL
	defer func() { openAlexAPIBase = orig }()

	p := &OpenAlex{Client: newTestHTTPClient(t)}
	abs, err := p.AbstractByTitle(context.Background(), "graphene")
	if err != nil {
		t.Fatalf("AbstractByTitle: %v", err)
	}
	if abs != "graphene gas sensors" {
		t.Errorf("abstract = %q", abs)
	}
}
