package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pdiddy/bibfix/pkg/types"
)

const semanticSearchBody = `{
  "data": [
    {
      "paperId": "abc",
      "title": "Fiber Bragg Grating Sensors",
      "year": 2019,
      "journal": {"name": "Optics Express"},
      "authors": [{"name": "Li Wang"}, {"name": "Tao Liu"}],
      "externalIds": {"DOI": "10.1364/OE.27.012345"}
    }
  ]
}`

func TestSemanticByTitleAuthorYear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if k := r.Header.Get("x-api-key"); k != "sekrit" {
			t.Errorf("x-api-key = %q", k)
		}
		if q := r.URL.Query().Get("query"); q != "fiber bragg" {
			t.Errorf("query = %q", q)
		}
		if l := r.URL.Query().Get("limit"); l != "5" {
			t.Errorf("limit = %q", l)
		}
		w.Write([]byte(semanticSearchBody))
	}))
	defer srv.Close()

	orig := semanticAPIBase
	semanticAPIBase = srv.URL
	defer func() { semanticAPIBase = orig }()

	p := &SemanticScholar{Client: newTestHTTPClient(t), APIKey: "sekrit"}
	candidates, err := p.ByTitleAuthorYear(context.Background(), "fiber bragg", "Wang", 2019)
	if err != nil {
		t.Fatalf("ByTitleAuthorYear: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d", len(candidates))
	}

	c := candidates[0]
	if c.Source != types.ProviderSemantic {
		t.Errorf("source = %q", c.Source)
	}
	if c.Journal != "Optics Express" {
		t.Errorf("journal = %q", c.Journal)
	}
	if len(c.Authors) != 2 || c.Authors[0] != "Wang" || c.Authors[1] != "Liu" {
		t.Errorf("authors = %v", c.Authors)
	}
}

func TestSemanticByDOIMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	orig := semanticAPIBase
	semanticAPIBase = srv.URL
	defer func() { semanticAPIBase = orig }()

	p := &SemanticScholar{Client: newTestHTTPClient(t)}
	c, err := p.ByDOI(context.Background(), "10.9999/missing")
	if err != nil || c != nil {
		t.Errorf("miss should be (nil, nil), got (%+v, %v)", c, err)
	}
}

func TestSemanticAbstractsByDOIBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding batch body: %v", err)
		}
		if len(body.IDs) != 2 || body.IDs[0] != "DOI:10.1/a" {
			t.Errorf("ids = %v", body.IDs)
		}
		// The API answers with null entries for unresolved ids.
		w.Write([]byte(`[
			{"title": "A", "abstract": "A long enough abstract body.", "externalIds": {"DOI": "10.1/A"}},
			null
		]`))
	}))
	defer srv.Close()

	orig := semanticAPIBase
	semanticAPIBase = srv.URL
	defer func() { semanticAPIBase = orig }()

	p := &SemanticScholar{Client: newTestHTTPClient(t)}
	abstracts, err := p.AbstractsByDOI(context.Background(), []string{"10.1/a", "10.1/b"})
	if err != nil {
		t.Fatalf("AbstractsByDOI: %v", err)
	}
	if len(abstracts) != 1 {
		t.Fatalf("len(abstracts) = %d", len(abstracts))
	}
	// Keyed by the lowercased DOI so lookups are case-insensitive.
	if abstracts["10.1/a"] != "A long enough abstract body." {
		t.Errorf("abstracts = %v", abstracts)
	}
}
