package textmatch

import (
	"math"
	"testing"

	"github.com/pdiddy/bibfix/pkg/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Deep Learning", "deep learning"},
		{"punctuation stripped", "sensing: a review!", "sensing a review"},
		{"whitespace collapsed", "  a \t b\n c ", "a b c"},
		{"unicode letters kept", "Schrödinger effект", "schrödinger effект"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	tokens := Tokenize("a deep dive on NV centers")
	if _, ok := tokens["a"]; ok {
		t.Error("single-letter token should be dropped")
	}
	for _, want := range []string{"deep", "dive", "on", "nv", "centers"} {
		if _, ok := tokens[want]; !ok {
			t.Errorf("missing token %q", want)
		}
	}
}

func TestJaccardIdentity(t *testing.T) {
	if got := Jaccard("deep learning for sensing", "deep learning for sensing"); got != 1 {
		t.Errorf("Jaccard(a,a) = %f, want 1", got)
	}
}

func TestJaccardEmpty(t *testing.T) {
	if got := Jaccard("deep learning", ""); got != 0 {
		t.Errorf("Jaccard(a, \"\") = %f, want 0", got)
	}
	if got := Jaccard("", ""); got != 0 {
		t.Errorf("Jaccard(\"\", \"\") = %f, want 0", got)
	}
}

func TestJaccardSymmetric(t *testing.T) {
	a, b := "plasmonic fiber sensor review", "fiber sensor applications"
	if Jaccard(a, b) != Jaccard(b, a) {
		t.Error("Jaccard is not symmetric")
	}
}

func TestAuthorMatch(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		authors []string
		want    float64
	}{
		{"exact", "Smith", []string{"Jones", "Smith"}, 1},
		{"case insensitive", "smith", []string{"SMITH"}, 1},
		{"no partial credit", "Smith", []string{"Smithson"}, 0},
		{"empty query", "", []string{"Smith"}, 0},
		{"no authors", "Smith", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AuthorMatch(tt.query, tt.authors); got != tt.want {
				t.Errorf("AuthorMatch(%q, %v) = %f, want %f", tt.query, tt.authors, got, tt.want)
			}
		})
	}
}

func TestYearProximity(t *testing.T) {
	tests := []struct {
		name       string
		qYear, cYear int
		want       float64
	}{
		{"same year", 2020, 2020, 1},
		{"off by one", 2020, 2021, 1},
		{"off by two", 2020, 2022, 0},
		{"query unknown", 0, 2020, 0.2},
		{"candidate unknown", 2020, 0, 0.2},
		{"both unknown", 0, 0, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := YearProximity(tt.qYear, tt.cYear); got != tt.want {
				t.Errorf("YearProximity(%d, %d) = %f, want %f", tt.qYear, tt.cYear, got, tt.want)
			}
		})
	}
}

func TestScoreWorkedExample(t *testing.T) {
	// 4 of 5 distinct title tokens shared (union is 5 after the one-letter
	// filter) → jaccard 4/5, author 1, year 1: 0.70·0.8 + 0.20 + 0.10 = 0.86.
	q := types.Query{Title: "Deep learning for sensing", AuthorLastName: "Smith", Year: 2020}
	c := types.Candidate{
		Source:  types.ProviderCrossref,
		Title:   "Deep learning for sensing applications",
		DOI:     "10.1/x",
		Journal: "Sensors",
		Year:    2020,
		Authors: []string{"Smith"},
	}
	got := Score(q, c)
	want := 0.70*(4.0/5.0) + 0.20 + 0.10
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Score = %f, want %f", got, want)
	}
}

func TestScoreMonotonicInTitle(t *testing.T) {
	q := types.Query{Title: "graphene gas sensor", AuthorLastName: "Lee", Year: 2019}
	lower := types.Candidate{Title: "unrelated work entirely", Authors: []string{"Lee"}, Year: 2019}
	higher := types.Candidate{Title: "graphene gas sensor study", Authors: []string{"Lee"}, Year: 2019}
	if Score(q, higher) <= Score(q, lower) {
		t.Error("increasing title similarity must not decrease the score")
	}
}

func TestPickBestFirstMaxWins(t *testing.T) {
	q := types.Query{Title: "fiber bragg grating sensor", AuthorLastName: "Chen", Year: 2021}
	candidates := []types.Candidate{
		{Title: "fiber bragg grating sensor", Authors: []string{"Chen"}, Year: 2021, DOI: "10.1/first"},
		{Title: "fiber bragg grating sensor", Authors: []string{"Chen"}, Year: 2021, DOI: "10.1/second"},
		{Title: "different topic altogether", Year: 1999},
	}
	best, score := PickBest(q, candidates)
	if best == nil {
		t.Fatal("PickBest returned nil")
	}
	if best.DOI != "10.1/first" {
		t.Errorf("best.DOI = %q, want first maximal candidate to win the tie", best.DOI)
	}
	// The three weights sum to 1 only up to float64 rounding.
	if math.Abs(score-1) > 1e-9 {
		t.Errorf("score = %f, want 1", score)
	}
}

func TestPickBestEmpty(t *testing.T) {
	best, score := PickBest(types.Query{Title: "x"}, nil)
	if best != nil || score != -1 {
		t.Errorf("PickBest(empty) = (%v, %f), want (nil, -1)", best, score)
	}
}

func TestContainsCJK(t *testing.T) {
	if !ContainsCJK("光纤传感器") {
		t.Error("CJK title not detected")
	}
	if ContainsCJK("fiber optic sensor") {
		t.Error("false positive on plain ASCII")
	}
	if ContainsCJK("Schrödinger") {
		t.Error("false positive on Latin diacritics")
	}
}

func TestToLastNames(t *testing.T) {
	got := ToLastNames([]string{"Jane Q. Smith", "Chen", "", "  "})
	if len(got) != 2 || got[0] != "Smith" || got[1] != "Chen" {
		t.Errorf("ToLastNames = %v", got)
	}
}
