// Package plan generates the scenario draft at session creation and one
// structured plan per chapter during play.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/engine/director"
	"github.com/aldermoor/storyloom/internal/registry"
)

// SectionPlan is one planned scene within a chapter.
type SectionPlan struct {
	Section     int    `json:"section"`
	Scene       string `json:"scene"`
	Intro       string `json:"intro"`
	Goal        string `json:"goal"`
	Description string `json:"description"`
	HasCombat   bool   `json:"has_combat"`
}

// Plan is one chapter's planned flow. Generated once, read-only afterwards
// except for the epilogue section appended to the final chapter.
type Plan struct {
	Title string        `json:"title"`
	Flow  []SectionPlan `json:"flow"`
}

// ChapterDraft is one chapter's one-line outline inside the scenario draft.
type ChapterDraft struct {
	Title    string `json:"title"`
	Overview string `json:"overview"`
}

// Draft is the whole-scenario outline generated at session creation and
// persisted to scenario.json.
type Draft struct {
	Title    string         `json:"title"`
	Goal     string         `json:"goal"`
	Summary  string         `json:"summary"`
	Chapters []ChapterDraft `json:"chapters"`
}

const (
	draftFile = "scenario.json"
	planFile  = "plan.json"
)

// planCanon is a plan-borne canon entry; registered separately, never stored
// in plan.json.
type planCanon struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Note string `json:"note"`
}

func chapterSchema() *ai.Schema {
	return &ai.Schema{
		Name: "chapter_plan",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"title", "flow", "canon"},
			"properties": map[string]any{
				"title": map[string]any{"type": "string"},
				"flow": map[string]any{
					"type":     "array",
					"minItems": 1,
					"maxItems": 5,
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"section", "scene", "intro", "goal", "description", "has_combat"},
						"properties": map[string]any{
							"section":     map[string]any{"type": "integer", "minimum": 1},
							"scene":       map[string]any{"type": "string", "enum": []any{"exploration"}},
							"intro":       map[string]any{"type": "string"},
							"goal":        map[string]any{"type": "string", "maxLength": 50},
							"description": map[string]any{"type": "string", "minLength": 100},
							"has_combat":  map[string]any{"type": "boolean"},
						},
					},
				},
				"canon": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"name", "type", "note"},
						"properties": map[string]any{
							"name": map[string]any{"type": "string"},
							"type": map[string]any{"type": "string"},
							"note": map[string]any{"type": "string", "minLength": 100},
						},
					},
				},
			},
		},
	}
}

func draftSchema() *ai.Schema {
	return &ai.Schema{
		Name: "scenario_draft",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"title", "goal", "summary", "chapters"},
			"properties": map[string]any{
				"title":   map[string]any{"type": "string"},
				"goal":    map[string]any{"type": "string"},
				"summary": map[string]any{"type": "string"},
				"chapters": map[string]any{
					"type":     "array",
					"minItems": 1,
					"maxItems": 5,
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"title", "overview"},
						"properties": map[string]any{
							"title":    map[string]any{"type": "string"},
							"overview": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
}

// Storage persists plans and the scenario draft.
type Storage interface {
	SaveSessionJSON(worldviewID, sessionID, name string, v any) error
	LoadSessionJSON(worldviewID, sessionID, name string, target any) error
	SaveChapterJSON(worldviewID, sessionID string, chapter int, name string, v any) error
	LoadChapterJSON(worldviewID, sessionID string, chapter int, name string, target any) error
}

// CanonRegistrar receives plan-borne canon entries.
type CanonRegistrar interface {
	SaveCanon(ctx context.Context, c registry.Canon) error
}

// Generator produces scenario drafts and chapter plans for one session.
type Generator struct {
	Engine      ai.Engine
	Storage     Storage
	Canon       CanonRegistrar
	Logger      zerolog.Logger
	WorldviewID string
	SessionID   string

	Now   func() time.Time
	NewID func() (string, error)
}

const draftPrompt = "You outline solo tabletop role-playing scenarios. From " +
	"the worldview and player character below, draft a grounded scenario: a " +
	"title, the player character's concrete goal, a short summary, and two " +
	"to five chapter outlines that build toward a climax. Keep the " +
	"character's free will intact: chapters set situations, never the " +
	"character's decisions. Avoid party formation and large NPC casts."

// GenerateDraft produces and persists the whole-scenario outline.
func (g *Generator) GenerateDraft(ctx context.Context, seed string, tc director.Context) (Draft, error) {
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: draftPrompt},
	}
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	request := "Draft the scenario."
	if strings.TrimSpace(seed) != "" {
		request = "Draft the scenario around this request: " + seed
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: request})

	res, err := g.Engine.Complete(ctx, ai.Request{
		Caller:    "plan.draft",
		Tier:      ai.TierVeryHigh,
		Messages:  messages,
		MaxOutput: 8000,
		Schema:    draftSchema(),
	})
	if err != nil {
		return Draft{}, fmt.Errorf("generate draft: %w", err)
	}

	var draft Draft
	if err := json.Unmarshal(res.Value, &draft); err != nil {
		return Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	if err := g.Storage.SaveSessionJSON(g.WorldviewID, g.SessionID, draftFile, draft); err != nil {
		return Draft{}, fmt.Errorf("persist draft: %w", err)
	}
	return draft, nil
}

// LoadDraft reads the persisted scenario draft.
func (g *Generator) LoadDraft() (Draft, error) {
	var draft Draft
	if err := g.Storage.LoadSessionJSON(g.WorldviewID, g.SessionID, draftFile, &draft); err != nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}
	return draft, nil
}

// Generate produces and persists the plan for one chapter. Plan-borne canon
// entries go to the canon registrar, not into plan.json. The final chapter
// gets an epilogue section appended after the generated flow.
func (g *Generator) Generate(ctx context.Context, chapter int, draft Draft, previous *Plan, tc director.Context) (Plan, error) {
	total := len(draft.Chapters)
	finalChapter := chapter >= total

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Plan chapter %d of %d for the scenario below. Produce only this chapter.\n", chapter, total)
	if finalChapter {
		prompt.WriteString("This is the final chapter: resolve the main threads, build to a climax the player's choices decide, and leave no major question open.\n")
	}
	fmt.Fprintf(&prompt, "\nScenario: %s\nGoal: %s\nSummary: %s\n", draft.Title, draft.Goal, draft.Summary)
	for i, ch := range draft.Chapters {
		fmt.Fprintf(&prompt, "Chapter %d: %s. %s\n", i+1, ch.Title, ch.Overview)
	}
	if previous != nil {
		if raw, err := json.Marshal(previous); err == nil {
			prompt.WriteString("\nPrevious chapter plan:\n")
			prompt.Write(raw)
			prompt.WriteString("\n")
		}
	}
	prompt.WriteString("\nList under canon only facts this chapter newly establishes. Never repeat an existing canon entry or known name. For obstacles, the note must include how they can be overcome.")

	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: "You plan chapters for a solo tabletop role-playing session. Sections must be concrete and grounded, each with a clear goal the player can pursue. Preserve the player character's free will."},
	}
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: prompt.String()})

	res, err := g.Engine.Complete(ctx, ai.Request{
		Caller:    "plan.chapter",
		Tier:      ai.TierVeryHigh,
		Messages:  messages,
		MaxOutput: 8000,
		Schema:    chapterSchema(),
	})
	if err != nil {
		return Plan{}, fmt.Errorf("generate chapter %d plan: %w", chapter, err)
	}

	var generated struct {
		Title string        `json:"title"`
		Flow  []SectionPlan `json:"flow"`
		Canon []planCanon   `json:"canon"`
	}
	if err := json.Unmarshal(res.Value, &generated); err != nil {
		return Plan{}, fmt.Errorf("decode chapter plan: %w", err)
	}

	result := Plan{Title: generated.Title, Flow: generated.Flow}
	if finalChapter {
		result.Flow = append(result.Flow, epilogueSection(len(result.Flow)+1))
	}

	if err := g.Storage.SaveChapterJSON(g.WorldviewID, g.SessionID, chapter, planFile, result); err != nil {
		return Plan{}, fmt.Errorf("persist chapter plan: %w", err)
	}

	for _, entry := range generated.Canon {
		if entry.Name == "" || entry.Note == "" {
			continue
		}
		created, err := registry.CreateCanon(registry.Canon{
			WorldviewID: g.WorldviewID,
			SessionID:   g.SessionID,
			Name:        entry.Name,
			Type:        entry.Type,
			Notes:       entry.Note,
			History:     []registry.CanonHistory{{Chapter: chapter, Text: "established by the chapter plan"}},
		}, g.Now, g.NewID)
		if err != nil {
			g.Logger.Warn().Err(err).Str("name", entry.Name).Msg("plan canon entry skipped")
			continue
		}
		if err := g.Canon.SaveCanon(ctx, created); err != nil {
			g.Logger.Warn().Err(err).Str("name", entry.Name).Msg("plan canon entry not saved")
		}
	}

	return result, nil
}

// Load reads a persisted chapter plan; missing plans report fs.ErrNotExist.
func (g *Generator) Load(chapter int) (Plan, error) {
	var result Plan
	if err := g.Storage.LoadChapterJSON(g.WorldviewID, g.SessionID, chapter, planFile, &result); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Plan{}, err
		}
		return Plan{}, fmt.Errorf("load chapter %d plan: %w", chapter, err)
	}
	return result, nil
}

func epilogueSection(section int) SectionPlan {
	return SectionPlan{
		Section: section,
		Scene:   "exploration",
		Intro:   "The dust settles and the story draws to its close.",
		Goal:    "See the journey to its end",
		Description: "A quiet closing scene after the climax. The character takes stock of " +
			"what the journey cost and what it won, says any farewells that matter, and " +
			"the consequences of their choices are shown in the world around them. No new " +
			"obstacles, no judgment rolls, no combat.",
		HasCombat: false,
	}
}

// SectionText renders one section plan for a prompt.
func SectionText(s SectionPlan) string {
	return fmt.Sprintf("Section %d (%s)\nIntro: %s\nGoal: %s\n%s", s.Section, s.Scene, s.Intro, s.Goal, s.Description)
}

// Text renders the whole plan for a prompt.
func (p Plan) Text() string {
	parts := make([]string, 0, len(p.Flow)+1)
	parts = append(parts, "Chapter: "+p.Title)
	for _, s := range p.Flow {
		parts = append(parts, SectionText(s))
	}
	return strings.Join(parts, "\n\n")
}
