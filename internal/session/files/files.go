// Package files stores per-session narrative artifacts as whole JSON (or
// plain text) files under the data directory. Each artifact is small and
// rewritten wholesale after every mutation, so files beat rows here: the
// on-disk layout stays inspectable and a partial write can never corrupt a
// neighboring record.
package files

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store reads and writes session artifacts below a data root.
//
// Layout:
//
//	<root>/worlds/state.json
//	<root>/worlds/<wid>/sessions/<sid>/<name>.json
//	<root>/worlds/<wid>/sessions/<sid>/chapters/chapter_NN/<name>.json
type Store struct {
	root string
}

// NewStore roots a store at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// SessionDir returns the directory holding one session's artifacts.
func (s *Store) SessionDir(worldviewID, sessionID string) string {
	return filepath.Join(s.root, "worlds", worldviewID, "sessions", sessionID)
}

// ChapterDir returns the directory holding one chapter's artifacts.
func (s *Store) ChapterDir(worldviewID, sessionID string, chapter int) string {
	return filepath.Join(s.SessionDir(worldviewID, sessionID), "chapters", fmt.Sprintf("chapter_%02d", chapter))
}

func (s *Store) markerPath() string {
	return filepath.Join(s.root, "worlds", "state.json")
}

// SaveSessionJSON writes one session artifact wholesale.
func (s *Store) SaveSessionJSON(worldviewID, sessionID, name string, v any) error {
	return writeJSON(filepath.Join(s.SessionDir(worldviewID, sessionID), name), v)
}

// LoadSessionJSON reads one session artifact. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist).
func (s *Store) LoadSessionJSON(worldviewID, sessionID, name string, target any) error {
	return readJSON(filepath.Join(s.SessionDir(worldviewID, sessionID), name), target)
}

// SaveChapterJSON writes one chapter artifact wholesale.
func (s *Store) SaveChapterJSON(worldviewID, sessionID string, chapter int, name string, v any) error {
	return writeJSON(filepath.Join(s.ChapterDir(worldviewID, sessionID, chapter), name), v)
}

// LoadChapterJSON reads one chapter artifact; missing files report fs.ErrNotExist.
func (s *Store) LoadChapterJSON(worldviewID, sessionID string, chapter int, name string, target any) error {
	return readJSON(filepath.Join(s.ChapterDir(worldviewID, sessionID, chapter), name), target)
}

// SaveText writes a plain-text session artifact.
func (s *Store) SaveText(worldviewID, sessionID, name, text string) error {
	return writeAtomic(filepath.Join(s.SessionDir(worldviewID, sessionID), name), []byte(text))
}

// LoadText reads a plain-text session artifact; missing files report
// fs.ErrNotExist.
func (s *Store) LoadText(worldviewID, sessionID, name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.SessionDir(worldviewID, sessionID), name))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// CopySessionFile copies one artifact between sessions of the same worldview.
// Used when a sequel session inherits the ended session's summary.
func (s *Store) CopySessionFile(worldviewID, fromSessionID, toSessionID, fromName, toName string) error {
	raw, err := os.ReadFile(filepath.Join(s.SessionDir(worldviewID, fromSessionID), fromName))
	if err != nil {
		return fmt.Errorf("read source artifact: %w", err)
	}
	return writeAtomic(filepath.Join(s.SessionDir(worldviewID, toSessionID), toName), raw)
}

// SaveMarker writes the interrupted-session marker.
func (s *Store) SaveMarker(v any) error {
	return writeJSON(s.markerPath(), v)
}

// LoadMarker reads the interrupted-session marker; missing files report
// fs.ErrNotExist.
func (s *Store) LoadMarker(target any) error {
	return readJSON(s.markerPath(), target)
}

// writeAtomic writes via a temp file in the same directory so a crash can
// never leave a half-written artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	return writeAtomic(path, append(raw, '\n'))
}

func readJSON(path string, target any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Exists reports whether a session artifact is present on disk.
func (s *Store) Exists(worldviewID, sessionID, name string) bool {
	_, err := os.Stat(filepath.Join(s.SessionDir(worldviewID, sessionID), name))
	return err == nil
}
