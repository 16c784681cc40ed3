// Package sqlite persists registry records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aldermoor/storyloom/internal/platform/storage/sqlitemigrate"
	"github.com/aldermoor/storyloom/internal/registry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is a SQLite-backed registry store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; a pool of one avoids lock contention.
	db.SetMaxOpenConns(1)

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	if err := sqlitemigrate.Apply(db, sub); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func marshalField(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal field: %w", err)
	}
	return string(raw), nil
}

func unmarshalField(raw string, target any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("unmarshal field: %w", err)
	}
	return nil
}

// SaveWorldview inserts or updates a worldview.
func (s *Store) SaveWorldview(ctx context.Context, w registry.Worldview) error {
	if w.ID == "" {
		return fmt.Errorf("worldview id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO worldviews (id, name, description, long_description, genre, tone, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    description = excluded.description,
    long_description = excluded.long_description,
    genre = excluded.genre,
    tone = excluded.tone
`, w.ID, w.Name, w.Description, w.LongDescription, w.Genre, w.Tone, toMillis(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("save worldview: %w", err)
	}
	return nil
}

// GetWorldview loads one worldview by id.
func (s *Store) GetWorldview(ctx context.Context, worldviewID string) (registry.Worldview, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, description, long_description, genre, tone, created_at
FROM worldviews WHERE id = ?`, worldviewID)

	var w registry.Worldview
	var created int64
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.LongDescription, &w.Genre, &w.Tone, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Worldview{}, fmt.Errorf("worldview %s: %w", worldviewID, ErrNotFound)
		}
		return registry.Worldview{}, fmt.Errorf("get worldview: %w", err)
	}
	w.CreatedAt = fromMillis(created)
	return w, nil
}

// ListWorldviews returns every worldview ordered by creation time.
func (s *Store) ListWorldviews(ctx context.Context) ([]registry.Worldview, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, description, long_description, genre, tone, created_at
FROM worldviews ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list worldviews: %w", err)
	}
	defer rows.Close()

	var out []registry.Worldview
	for rows.Next() {
		var w registry.Worldview
		var created int64
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.LongDescription, &w.Genre, &w.Tone, &created); err != nil {
			return nil, fmt.Errorf("scan worldview: %w", err)
		}
		w.CreatedAt = fromMillis(created)
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveCharacter inserts or updates a character.
func (s *Store) SaveCharacter(ctx context.Context, c registry.Character) error {
	if c.ID == "" {
		return fmt.Errorf("character id is required")
	}
	items, err := marshalField(c.Items)
	if err != nil {
		return err
	}
	checks, err := marshalField(c.Checks)
	if err != nil {
		return err
	}
	history, err := marshalField(c.History)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO characters (id, worldview_id, name, level, background, items, checks, growth_pool, history, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    level = excluded.level,
    background = excluded.background,
    items = excluded.items,
    checks = excluded.checks,
    growth_pool = excluded.growth_pool,
    history = excluded.history
`, c.ID, c.WorldviewID, c.Name, c.Level, c.Background, items, checks, c.GrowthPool, history, toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save character: %w", err)
	}
	return nil
}

// GetCharacter loads one character by id.
func (s *Store) GetCharacter(ctx context.Context, characterID string) (registry.Character, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, worldview_id, name, level, background, items, checks, growth_pool, history, created_at
FROM characters WHERE id = ?`, characterID)
	c, err := scanCharacter(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Character{}, fmt.Errorf("character %s: %w", characterID, ErrNotFound)
		}
		return registry.Character{}, fmt.Errorf("get character: %w", err)
	}
	return c, nil
}

// ListCharacters returns a worldview's characters ordered by creation time.
func (s *Store) ListCharacters(ctx context.Context, worldviewID string) ([]registry.Character, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, worldview_id, name, level, background, items, checks, growth_pool, history, created_at
FROM characters WHERE worldview_id = ? ORDER BY created_at, id`, worldviewID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var out []registry.Character
	for rows.Next() {
		c, err := scanCharacter(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCharacter(scan func(...any) error) (registry.Character, error) {
	var c registry.Character
	var items, checks, history string
	var created int64
	if err := scan(&c.ID, &c.WorldviewID, &c.Name, &c.Level, &c.Background, &items, &checks, &c.GrowthPool, &history, &created); err != nil {
		return registry.Character{}, err
	}
	if err := unmarshalField(items, &c.Items); err != nil {
		return registry.Character{}, err
	}
	if err := unmarshalField(checks, &c.Checks); err != nil {
		return registry.Character{}, err
	}
	if err := unmarshalField(history, &c.History); err != nil {
		return registry.Character{}, err
	}
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// SaveCanon inserts or updates a canon entry.
func (s *Store) SaveCanon(ctx context.Context, c registry.Canon) error {
	if c.ID == "" {
		return fmt.Errorf("canon id is required")
	}
	history, err := marshalField(c.History)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO canon_entries (id, worldview_id, session_id, name, type, notes, history, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    type = excluded.type,
    notes = excluded.notes,
    history = excluded.history
`, c.ID, c.WorldviewID, c.SessionID, c.Name, c.Type, c.Notes, history, toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save canon: %w", err)
	}
	return nil
}

// ListCanon returns a session's canon entries ordered by creation time.
func (s *Store) ListCanon(ctx context.Context, worldviewID, sessionID string) ([]registry.Canon, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, worldview_id, session_id, name, type, notes, history, created_at
FROM canon_entries WHERE worldview_id = ? AND session_id = ? ORDER BY created_at, id`, worldviewID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list canon: %w", err)
	}
	defer rows.Close()

	var out []registry.Canon
	for rows.Next() {
		var c registry.Canon
		var history string
		var created int64
		if err := rows.Scan(&c.ID, &c.WorldviewID, &c.SessionID, &c.Name, &c.Type, &c.Notes, &history, &created); err != nil {
			return nil, fmt.Errorf("scan canon: %w", err)
		}
		if err := unmarshalField(history, &c.History); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteSessionCanon removes every canon entry of one session. Used after
// canon finalization promotes the survivors.
func (s *Store) DeleteSessionCanon(ctx context.Context, worldviewID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM canon_entries WHERE worldview_id = ? AND session_id = ?`,
		worldviewID, sessionID)
	if err != nil {
		return fmt.Errorf("delete session canon: %w", err)
	}
	return nil
}

// SaveNoun inserts or updates a worldview noun.
func (s *Store) SaveNoun(ctx context.Context, n registry.Noun) error {
	if n.ID == "" {
		return fmt.Errorf("noun id is required")
	}
	tags, err := marshalField(n.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO nouns (id, worldview_id, name, type, tags, notes, fame, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    type = excluded.type,
    tags = excluded.tags,
    notes = excluded.notes,
    fame = excluded.fame
`, n.ID, n.WorldviewID, n.Name, n.Type, tags, n.Notes, n.Fame, toMillis(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("save noun: %w", err)
	}
	return nil
}

// ListNouns returns a worldview's nouns, most widely known first.
func (s *Store) ListNouns(ctx context.Context, worldviewID string) ([]registry.Noun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, worldview_id, name, type, tags, notes, fame, created_at
FROM nouns WHERE worldview_id = ? ORDER BY fame, name`, worldviewID)
	if err != nil {
		return nil, fmt.Errorf("list nouns: %w", err)
	}
	defer rows.Close()

	var out []registry.Noun
	for rows.Next() {
		var n registry.Noun
		var tags string
		var created int64
		if err := rows.Scan(&n.ID, &n.WorldviewID, &n.Name, &n.Type, &tags, &n.Notes, &n.Fame, &created); err != nil {
			return nil, fmt.Errorf("scan noun: %w", err)
		}
		if err := unmarshalField(tags, &n.Tags); err != nil {
			return nil, err
		}
		n.CreatedAt = fromMillis(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// SaveSession inserts or updates a session index record.
func (s *Store) SaveSession(ctx context.Context, sess registry.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, worldview_id, title, status, player_character_id, cloned_from, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    status = excluded.status,
    player_character_id = excluded.player_character_id,
    cloned_from = excluded.cloned_from
`, sess.ID, sess.WorldviewID, sess.Title, string(sess.Status), sess.PlayerCharacterID, sess.ClonedFrom, toMillis(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (registry.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, worldview_id, title, status, player_character_id, cloned_from, created_at
FROM sessions WHERE id = ?`, sessionID)

	var sess registry.Session
	var status string
	var created int64
	err := row.Scan(&sess.ID, &sess.WorldviewID, &sess.Title, &status, &sess.PlayerCharacterID, &sess.ClonedFrom, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registry.Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return registry.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.Status = registry.SessionStatus(status)
	sess.CreatedAt = fromMillis(created)
	return sess, nil
}

// ListSessions returns a worldview's sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context, worldviewID string) ([]registry.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, worldview_id, title, status, player_character_id, cloned_from, created_at
FROM sessions WHERE worldview_id = ? ORDER BY created_at, id`, worldviewID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []registry.Session
	for rows.Next() {
		var sess registry.Session
		var status string
		var created int64
		if err := rows.Scan(&sess.ID, &sess.WorldviewID, &sess.Title, &status, &sess.PlayerCharacterID, &sess.ClonedFrom, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Status = registry.SessionStatus(status)
		sess.CreatedAt = fromMillis(created)
		out = append(out, sess)
	}
	return out, rows.Err()
}
