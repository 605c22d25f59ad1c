package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	applog "moodtap/internal/log"
	"moodtap/internal/mood"

	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously
)

// SQLite stores entries in a single table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("cache: sqlite path is empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	applog.WithField("path", path).Debugf("Cache: sqlite store ready")
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		mood TEXT NOT NULL,
		confidence REAL NOT NULL,
		tempo REAL NOT NULL,
		energy REAL NOT NULL,
		valence REAL NOT NULL,
		danceability REAL NOT NULL,
		features TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`)
	if err != nil {
		return err
	}

	// Databases created before committed moods were stored lack these columns.
	columns := []struct{ name, ddl string }{
		{"committed", "committed TEXT NOT NULL DEFAULT 'neutral'"},
		{"committed_confidence", "committed_confidence REAL NOT NULL DEFAULT 0"},
	}
	for _, c := range columns {
		var n int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM pragma_table_info('analyses') WHERE name = ?", c.name,
		).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := s.db.Exec("ALTER TABLE analyses ADD COLUMN " + c.ddl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key, source, mood, confidence, committed, committed_confidence, features, created_at
		FROM analyses WHERE key = ?
	`, key)

	var (
		e              Entry
		moodLabel      string
		committedLabel string
		features       string
		created        int64
	)
	err := row.Scan(&e.ID, &e.Key, &e.Source, &moodLabel, &e.Confidence,
		&committedLabel, &e.CommittedConfidence, &features, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("failed to load analysis: %w", err)
	}

	m, err := mood.ParseMood(moodLabel)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to load analysis %s: %w", e.ID, err)
	}
	e.Mood = m
	if e.Committed, err = mood.ParseMood(committedLabel); err != nil {
		return Entry{}, fmt.Errorf("failed to load analysis %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(features), &e.Features); err != nil {
		return Entry{}, fmt.Errorf("failed to decode features of %s: %w", e.ID, err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return e, nil
}

func (s *SQLite) Put(ctx context.Context, e Entry) error {
	e, err := prepare(e, time.Now())
	if err != nil {
		return err
	}
	features, err := json.Marshal(e.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (
			id, key, source, mood, confidence, committed, committed_confidence,
			tempo, energy, valence, danceability, features, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source=excluded.source,
			mood=excluded.mood,
			confidence=excluded.confidence,
			committed=excluded.committed,
			committed_confidence=excluded.committed_confidence,
			tempo=excluded.tempo,
			energy=excluded.energy,
			valence=excluded.valence,
			danceability=excluded.danceability,
			features=excluded.features,
			created_at=excluded.created_at;
	`,
		e.ID,
		e.Key,
		e.Source,
		e.Mood.String(),
		e.Confidence,
		e.Committed.String(),
		e.CommittedConfidence,
		e.Features.Tempo,
		e.Features.Energy,
		e.Features.Valence,
		e.Features.Danceability,
		string(features),
		e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis %s: %w", e.Key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM analyses WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete analysis %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return n, nil
}

// Close ensures the DB connection is closed gracefully
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
