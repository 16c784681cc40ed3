// Package scenario owns the in-scenario state machine: chapter and section
// progress plus the typed step driver that sequences a play session.
package scenario

import (
	"errors"
	"fmt"
	"io/fs"
)

const stateFile = "scenario_state.json"

// State is the persisted scenario position. Chapter and section start at 0
// and increment at their respective driver steps; every mutation is
// persisted immediately.
type State struct {
	WorldviewID string         `json:"worldview_id"`
	SessionID   string         `json:"session_id"`
	Chapter     int            `json:"chapter"`
	Section     int            `json:"section"`
	Scene       string         `json:"scene"`
	Markers     map[string]any `json:"markers"`

	storage Storage
}

// Storage persists the scenario state wholesale.
type Storage interface {
	SaveSessionJSON(worldviewID, sessionID, name string, v any) error
	LoadSessionJSON(worldviewID, sessionID, name string, target any) error
}

// LoadState returns the persisted state or a fresh default.
func LoadState(storage Storage, worldviewID, sessionID string) (*State, error) {
	state := &State{
		WorldviewID: worldviewID,
		SessionID:   sessionID,
		Scene:       "exploration",
		Markers:     map[string]any{},
		storage:     storage,
	}
	err := storage.LoadSessionJSON(worldviewID, sessionID, stateFile, state)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load scenario state: %w", err)
	}
	// Identity fields win over whatever the file carries.
	state.WorldviewID = worldviewID
	state.SessionID = sessionID
	state.storage = storage
	if state.Scene == "" {
		state.Scene = "exploration"
	}
	if state.Markers == nil {
		state.Markers = map[string]any{}
	}
	return state, nil
}

// Save persists the current position.
func (s *State) Save() error {
	if err := s.storage.SaveSessionJSON(s.WorldviewID, s.SessionID, stateFile, s); err != nil {
		return fmt.Errorf("save scenario state: %w", err)
	}
	return nil
}

// AdvanceChapter increments the chapter, resets the section, and persists.
func (s *State) AdvanceChapter() error {
	s.Chapter++
	s.Section = 0
	return s.Save()
}

// AdvanceSection increments the section and persists.
func (s *State) AdvanceSection() error {
	s.Section++
	return s.Save()
}

// Clear resets the position and persists, marking the scenario finished.
func (s *State) Clear() error {
	s.Chapter = 0
	s.Section = 0
	s.Scene = "exploration"
	s.Markers = map[string]any{}
	return s.Save()
}
