package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pdiddy/bibfix/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(types.LibraryConfig{DBPath: filepath.Join(t.TempDir(), "library.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRecords(t *testing.T, s *SQLiteStore, snaps ...Snapshot) {
	t.Helper()
	if err := s.Import(context.Background(), snaps); err != nil {
		t.Fatalf("Import: %v", err)
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s,
		Snapshot{
			Key:      "B002",
			Title:    "Graphene humidity sensor",
			Journal:  "Sensors",
			Date:     "2021-03-01",
			Creators: []Creator{{LastName: "Chen"}, {Name: "Acme Collaboration"}},
			Tags:     []string{"topic/tmd_2d_materials"},
		},
		Snapshot{Key: "A001", Title: "NV magnetometry", DOI: "10.1/NV"},
	)

	records, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d", len(records))
	}
	if records[0].Key() != "A001" || records[1].Key() != "B002" {
		t.Errorf("order = %s, %s, want key order", records[0].Key(), records[1].Key())
	}

	r := records[1]
	if r.Field(FieldTitle) != "Graphene humidity sensor" {
		t.Errorf("title = %q", r.Field(FieldTitle))
	}
	creators := r.Creators()
	if len(creators) != 2 || creators[0].LastName != "Chen" || creators[1].Name != "Acme Collaboration" {
		t.Errorf("creators = %+v", creators)
	}
	if !r.HasTag("topic/tmd_2d_materials") {
		t.Errorf("tags = %v", r.Tags())
	}
}

func TestSavePersistsFieldAndTagChanges(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, Snapshot{Key: "A001", Title: "NV magnetometry", Tags: []string{"/meta_nohit"}})

	records, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	r := records[0]
	r.SetField(FieldDOI, "10.1103/PhysRevLett.1.1")
	r.SetField(FieldJournal, "Physical Review Letters")
	r.RemoveTag("/meta_nohit")
	r.AddTag("/meta_ok")
	if err := r.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	got := reloaded[0]
	if got.Field(FieldDOI) != "10.1103/PhysRevLett.1.1" {
		t.Errorf("doi = %q", got.Field(FieldDOI))
	}
	if got.Field(FieldJournal) != "Physical Review Letters" {
		t.Errorf("journal = %q", got.Field(FieldJournal))
	}
	if got.HasTag("/meta_nohit") || !got.HasTag("/meta_ok") {
		t.Errorf("tags = %v", got.Tags())
	}
}

func TestUnsavedChangesDoNotPersist(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, Snapshot{Key: "A001", Title: "Original"})

	records, _ := s.Records(context.Background())
	records[0].SetField(FieldTitle, "Changed but never saved")

	reloaded, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if got := reloaded[0].Field(FieldTitle); got != "Original" {
		t.Errorf("title = %q", got)
	}
}

func TestRecordsWithTag(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s,
		Snapshot{Key: "A001", Title: "one", Tags: []string{"/meta_llm_untagged"}},
		Snapshot{Key: "B002", Title: "two"},
		Snapshot{Key: "C003", Title: "three", Tags: []string{"/meta_llm_untagged", "/meta_ok"}},
	)

	records, err := s.RecordsWithTag(context.Background(), "/meta_llm_untagged")
	if err != nil {
		t.Fatalf("RecordsWithTag: %v", err)
	}
	if len(records) != 2 || records[0].Key() != "A001" || records[1].Key() != "C003" {
		keys := make([]string, len(records))
		for i, r := range records {
			keys[i] = r.Key()
		}
		t.Errorf("keys = %v", keys)
	}
}

func TestImportReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	seedRecords(t, s, Snapshot{Key: "A001", Title: "v1", Tags: []string{"old/tag"}})
	seedRecords(t, s, Snapshot{Key: "A001", Title: "v2", Tags: []string{"new/tag"}})

	records, err := s.Records(context.Background())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d", len(records))
	}
	if records[0].Field(FieldTitle) != "v2" {
		t.Errorf("title = %q", records[0].Field(FieldTitle))
	}
	if records[0].HasTag("old/tag") || !records[0].HasTag("new/tag") {
		t.Errorf("tags = %v", records[0].Tags())
	}
}
