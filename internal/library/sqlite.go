// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/bibfix/pkg/types"
)

// SQLiteStore keeps the library in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the library database and its schema.
func NewSQLiteStore(cfg types.LibraryConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("library: database path is empty")
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating library directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening library database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating library schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			doi TEXT NOT NULL DEFAULT '',
			journal TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			creators TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS record_tags (
			record_key TEXT NOT NULL REFERENCES records(key) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			PRIMARY KEY (record_key, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_record_tags_tag ON record_tags(tag)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Import loads snapshots, replacing any record with the same key.
func (s *SQLiteStore) Import(ctx context.Context, snaps []Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range snaps {
		creatorsJSON, err := json.Marshal(snap.Creators)
		if err != nil {
			return fmt.Errorf("encoding creators for %s: %w", snap.Key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (key, title, doi, journal, date, abstract, creators)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				title=excluded.title, doi=excluded.doi, journal=excluded.journal,
				date=excluded.date, abstract=excluded.abstract, creators=excluded.creators`,
			snap.Key, snap.Title, snap.DOI, snap.Journal, snap.Date, snap.Abstract, string(creatorsJSON),
		)
		if err != nil {
			return fmt.Errorf("upserting record %s: %w", snap.Key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_tags WHERE record_key = ?`, snap.Key); err != nil {
			return fmt.Errorf("clearing tags for %s: %w", snap.Key, err)
		}
		for _, tag := range snap.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO record_tags (record_key, tag) VALUES (?, ?)`, snap.Key, tag,
			); err != nil {
				return fmt.Errorf("inserting tag for %s: %w", snap.Key, err)
			}
		}
	}
	return tx.Commit()
}

// Records returns every record ordered by key.
func (s *SQLiteStore) Records(ctx context.Context) ([]Record, error) {
	return s.query(ctx,
		`SELECT key, title, doi, journal, date, abstract, creators FROM records ORDER BY key`)
}

// RecordsWithTag returns the records carrying tag, ordered by key.
func (s *SQLiteStore) RecordsWithTag(ctx context.Context, tag string) ([]Record, error) {
	return s.query(ctx,
		`SELECT r.key, r.title, r.doi, r.journal, r.date, r.abstract, r.creators
		 FROM records r JOIN record_tags t ON t.record_key = r.key
		 WHERE t.tag = ? ORDER BY r.key`, tag)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r := &sqliteRecord{store: s, fields: map[string]string{}}
		var creatorsJSON string
		var title, doi, journal, date, abstract string
		if err := rows.Scan(&r.key, &title, &doi, &journal, &date, &abstract, &creatorsJSON); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.fields[FieldTitle] = title
		r.fields[FieldDOI] = doi
		r.fields[FieldJournal] = journal
		r.fields[FieldDate] = date
		r.fields[FieldAbstract] = abstract
		if err := json.Unmarshal([]byte(creatorsJSON), &r.creators); err != nil {
			return nil, fmt.Errorf("decoding creators for %s: %w", r.key, err)
		}
		if err := s.loadTags(ctx, r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) loadTags(ctx context.Context, r *sqliteRecord) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM record_tags WHERE record_key = ? ORDER BY tag`, r.key)
	if err != nil {
		return fmt.Errorf("querying tags for %s: %w", r.key, err)
	}
	defer rows.Close()

	r.tags = map[string]bool{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("scanning tag for %s: %w", r.key, err)
		}
		r.tags[tag] = true
	}
	return rows.Err()
}

// sqliteRecord buffers mutations in memory until Save.
type sqliteRecord struct {
	store    *SQLiteStore
	key      string
	fields   map[string]string
	creators []Creator
	tags     map[string]bool
}

func (r *sqliteRecord) Key() string { return r.key }

func (r *sqliteRecord) Field(name string) string { return r.fields[name] }

func (r *sqliteRecord) SetField(name, value string) { r.fields[name] = value }

func (r *sqliteRecord) Creators() []Creator { return r.creators }

func (r *sqliteRecord) Tags() []string {
	tags := make([]string, 0, len(r.tags))
	for tag := range r.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *sqliteRecord) HasTag(name string) bool { return r.tags[name] }

func (r *sqliteRecord) AddTag(name string) { r.tags[name] = true }

func (r *sqliteRecord) RemoveTag(name string) { delete(r.tags, name) }

// Save writes the record and its tag set in one transaction.
func (r *sqliteRecord) Save(ctx context.Context) error {
	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	creatorsJSON, err := json.Marshal(r.creators)
	if err != nil {
		return fmt.Errorf("encoding creators for %s: %w", r.key, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE records SET title=?, doi=?, journal=?, date=?, abstract=?, creators=? WHERE key=?`,
		r.fields[FieldTitle], r.fields[FieldDOI], r.fields[FieldJournal],
		r.fields[FieldDate], r.fields[FieldAbstract], string(creatorsJSON), r.key,
	)
	if err != nil {
		return fmt.Errorf("updating record %s: %w", r.key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM record_tags WHERE record_key = ?`, r.key); err != nil {
		return fmt.Errorf("clearing tags for %s: %w", r.key, err)
	}
	for _, tag := range r.Tags() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO record_tags (record_key, tag) VALUES (?, ?)`, r.key, tag,
		); err != nil {
			return fmt.Errorf("inserting tag for %s: %w", r.key, err)
		}
	}
	return tx.Commit()
}
