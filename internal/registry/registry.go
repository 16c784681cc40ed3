// Package registry defines the durable records shared across play sessions:
// worldviews, player characters, canon entries, proper nouns, and the session
// index. Persistence lives in the sqlite subpackage.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aldermoor/storyloom/internal/platform/id"
)

// SkillNames lists the twelve character skills in canonical order.
var SkillNames = []string{
	"perception",
	"agility",
	"might",
	"intellect",
	"intuition",
	"stealth",
	"insight",
	"craft",
	"persuasion",
	"will",
	"endurance",
	"hope",
}

const (
	SkillLevelMin = -3
	SkillLevelMax = 3

	CharacterLevelMax = 15

	// FameMin is the most widely known a noun can be; higher fame means
	// more obscure.
	FameMin = 0
	FameMax = 50
)

// SessionStatus tracks a session through its lifecycle.
type SessionStatus string

const (
	SessionPreparation SessionStatus = "preparation"
	SessionActive      SessionStatus = "active"
	SessionEnded       SessionStatus = "ended"
)

// Worldview is a setting that sessions and characters belong to.
type Worldview struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	LongDescription string    `json:"long_description"`
	Genre           string    `json:"genre"`
	Tone            string    `json:"tone"`
	CreatedAt       time.Time `json:"created_at"`
}

// Item is one inventory entry on a character.
type Item struct {
	Name        string `json:"name"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

// HistoryEntry is one line of a character's recorded past.
type HistoryEntry struct {
	Text string `json:"text"`
}

// Character is a player character bound to a worldview.
type Character struct {
	ID          string         `json:"id"`
	WorldviewID string         `json:"worldview_id"`
	Name        string         `json:"name"`
	Level       int            `json:"level"`
	Background  string         `json:"background"`
	Items       []Item         `json:"items"`
	Checks      map[string]int `json:"checks"`
	GrowthPool  int            `json:"growth_pool"`
	History     []HistoryEntry `json:"history"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CanonHistory records one chapter's note about a canon entry.
type CanonHistory struct {
	Chapter int    `json:"chapter"`
	Text    string `json:"text"`
}

// Canon is a fact established during a session, scoped to (worldview, session).
type Canon struct {
	ID          string         `json:"id"`
	WorldviewID string         `json:"worldview_id"`
	SessionID   string         `json:"session_id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Notes       string         `json:"notes"`
	History     []CanonHistory `json:"history"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Noun is a worldview-level proper noun promoted from session canon.
type Noun struct {
	ID          string    `json:"id"`
	WorldviewID string    `json:"worldview_id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Tags        []string  `json:"tags"`
	Notes       string    `json:"notes"`
	Fame        int       `json:"fame"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is one play-through inside a worldview.
type Session struct {
	ID                string        `json:"id"`
	WorldviewID       string        `json:"worldview_id"`
	Title             string        `json:"title"`
	Status            SessionStatus `json:"status"`
	PlayerCharacterID string        `json:"player_character_id"`
	ClonedFrom        string        `json:"cloned_from"`
	CreatedAt         time.Time     `json:"created_at"`
}

// CreateWorldview validates and fills a new worldview record.
func CreateWorldview(input Worldview, now func() time.Time, newID func() (string, error)) (Worldview, error) {
	now, newID = defaults(now, newID)

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Worldview{}, fmt.Errorf("worldview name is required")
	}

	generated, err := newID()
	if err != nil {
		return Worldview{}, fmt.Errorf("generate worldview id: %w", err)
	}
	input.ID = generated
	input.CreatedAt = now().UTC()
	return input, nil
}

// CreateCharacter validates and fills a new character record. Every skill
// gets an explicit level; missing entries default to 0 and out-of-range levels
// are rejected.
func CreateCharacter(input Character, now func() time.Time, newID func() (string, error)) (Character, error) {
	now, newID = defaults(now, newID)

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Character{}, fmt.Errorf("character name is required")
	}
	if input.WorldviewID == "" {
		return Character{}, fmt.Errorf("character worldview id is required")
	}
	if input.Level < 0 || input.Level > CharacterLevelMax {
		return Character{}, fmt.Errorf("character level %d out of range 0..%d", input.Level, CharacterLevelMax)
	}

	checks, err := NormalizeChecks(input.Checks)
	if err != nil {
		return Character{}, err
	}
	input.Checks = checks

	generated, err := newID()
	if err != nil {
		return Character{}, fmt.Errorf("generate character id: %w", err)
	}
	input.ID = generated
	input.CreatedAt = now().UTC()
	return input, nil
}

// NormalizeChecks returns a complete skill map covering every known skill.
// Unknown skill names and out-of-range levels are errors.
func NormalizeChecks(checks map[string]int) (map[string]int, error) {
	known := make(map[string]bool, len(SkillNames))
	for _, name := range SkillNames {
		known[name] = true
	}
	for name, level := range checks {
		if !known[name] {
			return nil, fmt.Errorf("unknown skill %q", name)
		}
		if level < SkillLevelMin || level > SkillLevelMax {
			return nil, fmt.Errorf("skill %s level %d out of range %d..%d", name, level, SkillLevelMin, SkillLevelMax)
		}
	}
	full := make(map[string]int, len(SkillNames))
	for _, name := range SkillNames {
		full[name] = checks[name]
	}
	return full, nil
}

// CreateCanon validates and fills a new canon entry.
func CreateCanon(input Canon, now func() time.Time, newID func() (string, error)) (Canon, error) {
	now, newID = defaults(now, newID)

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Canon{}, fmt.Errorf("canon name is required")
	}
	if input.WorldviewID == "" || input.SessionID == "" {
		return Canon{}, fmt.Errorf("canon worldview and session ids are required")
	}

	generated, err := newID()
	if err != nil {
		return Canon{}, fmt.Errorf("generate canon id: %w", err)
	}
	input.ID = generated
	input.CreatedAt = now().UTC()
	return input, nil
}

// CreateNoun validates and fills a new worldview noun. Fame is clamped into
// its valid band rather than rejected; completion output tends to drift at
// the edges.
func CreateNoun(input Noun, now func() time.Time, newID func() (string, error)) (Noun, error) {
	now, newID = defaults(now, newID)

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Noun{}, fmt.Errorf("noun name is required")
	}
	if input.WorldviewID == "" {
		return Noun{}, fmt.Errorf("noun worldview id is required")
	}
	if input.Fame < FameMin {
		input.Fame = FameMin
	}
	if input.Fame > FameMax {
		input.Fame = FameMax
	}

	generated, err := newID()
	if err != nil {
		return Noun{}, fmt.Errorf("generate noun id: %w", err)
	}
	input.ID = generated
	input.CreatedAt = now().UTC()
	return input, nil
}

// CreateSession validates and fills a new session record. New sessions start
// in preparation.
func CreateSession(input Session, now func() time.Time, newID func() (string, error)) (Session, error) {
	now, newID = defaults(now, newID)

	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return Session{}, fmt.Errorf("session title is required")
	}
	if input.WorldviewID == "" {
		return Session{}, fmt.Errorf("session worldview id is required")
	}
	switch input.Status {
	case "":
		input.Status = SessionPreparation
	case SessionPreparation, SessionActive, SessionEnded:
	default:
		return Session{}, fmt.Errorf("unknown session status %q", input.Status)
	}

	generated, err := newID()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	input.ID = generated
	input.CreatedAt = now().UTC()
	return input, nil
}

// SortNounsByFame orders nouns most widely known first, then by name for a
// stable listing.
func SortNounsByFame(nouns []Noun) {
	sort.SliceStable(nouns, func(i, j int) bool {
		if nouns[i].Fame != nouns[j].Fame {
			return nouns[i].Fame < nouns[j].Fame
		}
		return nouns[i].Name < nouns[j].Name
	})
}

func defaults(now func() time.Time, newID func() (string, error)) (func() time.Time, func() (string, error)) {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return now, newID
}
