// Package director decides what one player turn changes in the world. It
// asks the completion service for a structured Progression and persists the
// accepted result as the seed for the next turn.
package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/engine/command"
)

// Cue tells the driver what sub-flow the turn leads into.
type Cue string

const (
	CueAction Cue = "action"
	CueCombat Cue = "combat"
	CueEnd    Cue = "end"
	CueNone   Cue = "none"
)

// Env is the ambient scene state: time of day, weather, season.
type Env struct {
	Time    string `json:"t"`
	Weather string `json:"w"`
	Season  string `json:"s"`
}

// Flow is the scene context a Progression carries forward.
type Flow struct {
	Location  string   `json:"loc"`
	Objective string   `json:"obj"`
	NPCs      []string `json:"nps"`
	Env       Env      `json:"env"`
	Points    []string `json:"pts"`
}

// Progression is one turn's structured "what changed" object.
type Progression struct {
	Act  string            `json:"act"`
	Flow Flow              `json:"flow"`
	Cmd  []command.Command `json:"cmd"`
	Cue  Cue               `json:"cue"`
}

const progressionFile = "progression_last.json"

// Schema is the closed Progression contract: every key required, every
// string and array bounded, no additional properties anywhere.
func Schema() *ai.Schema {
	str := func(maxLen int) map[string]any {
		return map[string]any{"type": "string", "maxLength": maxLen}
	}
	return &ai.Schema{
		Name: "progression",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"act", "flow", "cmd", "cue"},
			"properties": map[string]any{
				"act": str(100),
				"flow": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"loc", "obj", "nps", "env", "pts"},
					"properties": map[string]any{
						"loc": str(60),
						"obj": str(60),
						"nps": map[string]any{
							"type":     "array",
							"maxItems": 5,
							"items":    map[string]any{"type": "string"},
						},
						"env": map[string]any{
							"type":                 "object",
							"additionalProperties": false,
							"required":             []any{"t", "w", "s"},
							"properties": map[string]any{
								"t": str(20),
								"w": str(20),
								"s": str(20),
							},
						},
						"pts": map[string]any{
							"type":     "array",
							"maxItems": 5,
							"items":    str(24),
						},
					},
				},
				"cmd": map[string]any{
					"type":  "array",
					"items": command.Schema(),
				},
				"cue": map[string]any{
					"type": "string",
					"enum": []any{string(CueAction), string(CueCombat), string(CueEnd), string(CueNone)},
				},
			},
		},
	}
}

// Context bundles everything a proposal or narration call needs to know
// about the turn. All fields are plain prose snippets except History and
// Previous, which thread structured state explicitly.
type Context struct {
	Scenario       string
	Worldview      string
	CharacterSheet string
	Canon          string
	Nouns          string
	ChapterPlan    string
	SectionGoal    string

	// Phase labels where in the turn cycle this call happens: action,
	// post_check, or post_combat.
	Phase string

	History []ai.Message

	// Previous is last turn's accepted Progression. Threading it through
	// the prompt substitutes for server-side conversation state.
	Previous *Progression
}

// Prompt renders the context bundle as system-prompt sections, skipping
// empty ones.
func (c Context) Prompt() string {
	sections := []struct {
		title string
		body  string
	}{
		{"Scenario", c.Scenario},
		{"Worldview", c.Worldview},
		{"Player character", c.CharacterSheet},
		{"Established canon", c.Canon},
		{"Known names", c.Nouns},
		{"Chapter plan", c.ChapterPlan},
		{"Current section goal", c.SectionGoal},
		{"Turn phase", c.Phase},
	}

	var b strings.Builder
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		b.WriteString("## ")
		b.WriteString(s.title)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.body))
		b.WriteString("\n\n")
	}
	if c.Previous != nil {
		if raw, err := json.Marshal(c.Previous); err == nil {
			b.WriteString("## Previous turn\n")
			b.Write(raw)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// Storage persists the progression seed between turns.
type Storage interface {
	SaveSessionJSON(worldviewID, sessionID, name string, v any) error
	LoadSessionJSON(worldviewID, sessionID, name string, target any) error
}

// Director proposes Progressions for one session.
type Director struct {
	Engine      ai.Engine
	Storage     Storage
	Logger      zerolog.Logger
	WorldviewID string
	SessionID   string
}

const proposePrompt = "You are the director of a solo tabletop role-playing " +
	"session. Given the world context and the player's input, decide what " +
	"this turn changes. Respond with the required structure only: act is a " +
	"one-line summary of what happens, flow carries the scene forward " +
	"(location, objective, present NPCs, the environment's time of day, " +
	"weather, and season, and up to five short plot points the narration " +
	"must mention), cmd lists state mutations, " +
	"and cue picks what follows: action when the input warrants a skill " +
	"check, combat when a fight starts, end when the section goal is met, " +
	"none otherwise. Prefer none unless the input clearly warrants more."

// Propose asks for this turn's Progression. On success the result is
// persisted as next turn's seed. A schema violation is returned as is so the
// caller can degrade to raw text; nothing is persisted in that case.
func (d *Director) Propose(ctx context.Context, playerInput string, tc Context) (Progression, error) {
	messages := make([]ai.Message, 0, len(tc.History)+3)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: proposePrompt})
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, tc.History...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: playerInput})

	res, err := d.Engine.Complete(ctx, ai.Request{
		Caller:    "director.propose",
		Tier:      ai.TierHigh,
		Messages:  messages,
		MaxOutput: 2500,
		Schema:    Schema(),
	})
	if err != nil {
		return Progression{}, fmt.Errorf("propose progression: %w", err)
	}

	var progression Progression
	if err := json.Unmarshal(res.Value, &progression); err != nil {
		return Progression{}, fmt.Errorf("decode progression: %w", err)
	}

	if err := d.Storage.SaveSessionJSON(d.WorldviewID, d.SessionID, progressionFile, progression); err != nil {
		return Progression{}, fmt.Errorf("persist progression: %w", err)
	}

	d.Logger.Debug().
		Str("cue", string(progression.Cue)).
		Int("commands", len(progression.Cmd)).
		Msg("progression accepted")
	return progression, nil
}

// LoadPrevious returns the persisted seed from the last accepted turn, or
// false when no turn has completed yet.
func (d *Director) LoadPrevious() (Progression, bool) {
	var progression Progression
	err := d.Storage.LoadSessionJSON(d.WorldviewID, d.SessionID, progressionFile, &progression)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.Logger.Warn().Err(err).Msg("progression seed unreadable, starting fresh")
		}
		return Progression{}, false
	}
	return progression, true
}
