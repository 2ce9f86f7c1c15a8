// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package library is the boundary to the bibliographic record store.
// Enrichment and tagging drivers see only the Record and Store
// interfaces; the SQLite implementation backs production runs.
package library

import "context"

// Record field names.
const (
	FieldTitle    = "title"
	FieldDOI      = "doi"
	FieldJournal  = "journal"
	FieldDate     = "date"
	FieldAbstract = "abstract"
)

// Creator is one author entry. LastName is set for personal names;
// Name carries single-field names such as collaborations.
type Creator struct {
	LastName string `json:"lastName,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Record is one journal-article entry. Mutations accumulate in memory
// until Save, which persists the whole record atomically.
type Record interface {
	Key() string
	Field(name string) string
	SetField(name, value string)
	Creators() []Creator
	Tags() []string
	HasTag(name string) bool
	AddTag(name string)
	RemoveTag(name string)
	Save(ctx context.Context) error
}

// Store lists records. Implementations must return records in a stable
// order so batch windows do not overlap between runs.
type Store interface {
	Records(ctx context.Context) ([]Record, error)
	RecordsWithTag(ctx context.Context, tag string) ([]Record, error)
	Close() error
}

// Snapshot is a plain record value used to load a library.
type Snapshot struct {
	Key      string
	Title    string
	DOI      string
	Journal  string
	Date     string
	Abstract string
	Creators []Creator
	Tags     []string
}
