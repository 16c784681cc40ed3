// Package growth runs the post-scenario character growth flow: an optional
// level raise, triangular-cost skill point distribution, an AI-proposed
// history record, and promotion of session canon into worldview nouns.
package growth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/registry"
)

// TriCost is the cumulative cost of holding a skill at level k: 1+2+...+k
// for positive levels, k itself for negative ones so lowering refunds.
func TriCost(k int) int {
	if k > 0 {
		return k * (k + 1) / 2
	}
	return k
}

// SpentPoints sums what the current distribution costs over the baseline.
// Levels at or below the baseline are free; only the delta above it is paid.
func SpentPoints(current, baseline map[string]int) int {
	total := 0
	for name, base := range baseline {
		if cost := TriCost(current[name]) - TriCost(base); cost > 0 {
			total += cost
		}
	}
	return total
}

// Step is the growth flow position. Steps that read player input are
// reachable only through HandleInput.
type Step int

const (
	StepIntro Step = iota
	StepLevelInfo
	StepLevelChoice
	StepDistribute
	StepDistributeEdit
	StepConfirm
	StepConfirmChoice
	StepHistoryPropose
	StepHistoryChoice
	StepHistoryManual
	StepCanonFinalize
	StepDone
)

func (s Step) waitsForInput() bool {
	switch s {
	case StepLevelChoice, StepDistributeEdit, StepConfirmChoice, StepHistoryChoice, StepHistoryManual:
		return true
	}
	return false
}

// Output is one growth flow response to the presentation layer.
type Output struct {
	Text         string
	AutoContinue bool
	WaitSeconds  int

	// Finished marks the end of the flow; the session returns to the
	// prologue.
	Finished bool
}

// CharacterStore is the registry slice the flow mutates.
type CharacterStore interface {
	GetCharacter(ctx context.Context, characterID string) (registry.Character, error)
	SaveCharacter(ctx context.Context, c registry.Character) error
}

// CanonStore reads and clears the finished session's canon.
type CanonStore interface {
	ListCanon(ctx context.Context, worldviewID, sessionID string) ([]registry.Canon, error)
	DeleteSessionCanon(ctx context.Context, worldviewID, sessionID string) error
}

// NounStore registers promoted worldview nouns.
type NounStore interface {
	SaveNoun(ctx context.Context, n registry.Noun) error
	ListNouns(ctx context.Context, worldviewID string) ([]registry.Noun, error)
}

// Storage reads the closing summary and persists the sequel canon file.
type Storage interface {
	LoadText(worldviewID, sessionID, name string) (string, error)
	SaveSessionJSON(worldviewID, sessionID, name string, v any) error
}

const (
	summaryFile     = "summary.txt"
	sequelCanonFile = "canon_sequel.json"

	// gimmickType marks single-scenario mechanics that never outlive
	// their session.
	gimmickType = "gimmick"

	maxPromotedNouns = 3
	maxSequelCanon   = 5
)

// Flow sequences one character's growth after a finished scenario.
type Flow struct {
	Engine     ai.Engine
	Characters CharacterStore
	Canon      CanonStore
	Nouns      NounStore
	Worldview  registry.Worldview
	Storage    Storage
	Logger     zerolog.Logger

	WorldviewID string
	SessionID   string
	CharacterID string

	// GrantedPoints is this growth round's allowance, one per chapter
	// of the finished scenario.
	GrantedPoints int

	Now   func() time.Time
	NewID func() (string, error)

	step      Step
	character registry.Character

	baseline  map[string]int
	current   map[string]int
	carryOver int
	pool      int

	historyProposal string
}

// Step reports the flow's current step.
func (f *Flow) Step() Step { return f.step }

// Start loads the character and opens the flow.
func (f *Flow) Start(ctx context.Context) (Output, error) {
	character, err := f.Characters.GetCharacter(ctx, f.CharacterID)
	if err != nil {
		return Output{}, fmt.Errorf("start growth: %w", err)
	}
	f.character = character
	f.step = StepLevelInfo
	return Output{
		Text:         fmt.Sprintf("%s grew through the story.", f.character.Name),
		AutoContinue: true,
		WaitSeconds:  1,
	}, nil
}

// Continue advances after an AutoContinue output.
func (f *Flow) Continue(ctx context.Context) (Output, error) {
	for {
		if f.step.waitsForInput() || f.step == StepDone {
			return Output{}, nil
		}
		out, err := f.tick(ctx)
		if err != nil {
			return Output{}, err
		}
		if out.Text != "" || out.Finished {
			return out, nil
		}
	}
}

func (f *Flow) tick(ctx context.Context) (Output, error) {
	switch f.step {
	case StepLevelInfo:
		return f.levelInfo()
	case StepDistribute:
		return f.startDistribution()
	case StepConfirm:
		return f.confirmDistribution()
	case StepHistoryPropose:
		return f.proposeHistory(ctx)
	case StepCanonFinalize:
		return f.finalize(ctx)
	}
	return Output{}, fmt.Errorf("growth step %d blocks on input", f.step)
}

// HandleInput processes one player utterance at an input-blocking step.
func (f *Flow) HandleInput(ctx context.Context, input string) (Output, error) {
	input = strings.TrimSpace(input)
	switch f.step {
	case StepLevelChoice:
		return f.levelChoice(ctx, input)
	case StepDistributeEdit:
		return f.distributeEdit(input)
	case StepConfirmChoice:
		return f.confirmChoice(ctx, input)
	case StepHistoryChoice:
		return f.historyChoice(ctx, input)
	case StepHistoryManual:
		return f.historyManual(ctx, input)
	default:
		return Output{Text: "Nothing is waiting on you right now."}, nil
	}
}

func (f *Flow) levelInfo() (Output, error) {
	f.step = StepLevelChoice
	return Output{Text: fmt.Sprintf(
		"Current level: %d\n"+
			"Level measures combat scale, roughly:\n"+
			"0: an ordinary person\n"+
			"1-3: novice adventurer\n"+
			"4-6: seasoned professional\n"+
			"7-10: superhuman\n"+
			"11-13: the stuff of legends\n"+
			"14-15: a peer of gods and spirits\n\n"+
			"Level shapes the scale of future scenarios, not their difficulty.\n\n"+
			"Raise the level?\n1. Raise it\n2. Leave it\n\nAnswer with a number.",
		f.character.Level)}, nil
}

func (f *Flow) levelChoice(ctx context.Context, input string) (Output, error) {
	switch input {
	case "1":
		if f.character.Level < registry.CharacterLevelMax {
			f.character.Level++
		}
		if err := f.Characters.SaveCharacter(ctx, f.character); err != nil {
			return Output{}, fmt.Errorf("save level: %w", err)
		}
		f.step = StepDistribute
		return Output{
			Text:         fmt.Sprintf("Level raised to %d.", f.character.Level),
			AutoContinue: true,
			WaitSeconds:  1,
		}, nil
	case "2":
		f.step = StepDistribute
		return Output{Text: "Level unchanged.", AutoContinue: true, WaitSeconds: 1}, nil
	default:
		return Output{Text: "Answer 1 or 2."}, nil
	}
}

func (f *Flow) startDistribution() (Output, error) {
	f.baseline = map[string]int{}
	f.current = map[string]int{}
	for _, name := range registry.SkillNames {
		level := f.character.Checks[name]
		f.baseline[name] = level
		f.current[name] = level
	}
	f.carryOver = f.character.GrowthPool
	f.pool = f.carryOver + f.GrantedPoints

	f.step = StepDistributeEdit
	return Output{Text: f.renderDistribution()}, nil
}

func (f *Flow) renderDistribution() string {
	spent := SpentPoints(f.current, f.baseline)
	var b strings.Builder
	b.WriteString("Distribute growth points across your skills.\n")
	b.WriteString("Commands: <number> <delta>, for example 3 +1 or 11 -1, then done.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- You cannot drop a skill below where this growth round started.\n")
	b.WriteString("- Each step up costs its new level: +1 costs 1, the next 2, then 3.\n")
	b.WriteString("- Lowering a raise within this round refunds its cost.\n")
	b.WriteString("- Unspent points carry over to the next scenario.\n\n")
	b.WriteString("Skills (current / round start):\n")
	for i, name := range registry.SkillNames {
		note := ""
		if f.current[name] >= registry.SkillLevelMax {
			note = " (max)"
		}
		fmt.Fprintf(&b, "%2d. %s: %+d / %+d%s\n", i+1, name, f.current[name], f.baseline[name], note)
	}
	fmt.Fprintf(&b, "\nGranted: %dpt, carried over: %dpt\n", f.GrantedPoints, f.carryOver)
	fmt.Fprintf(&b, "Balance: %dpt, spent: %dpt, remaining: %dpt\n", f.pool, max(spent, 0), f.pool-spent)
	b.WriteString("\nEnter a change, or done to review.")
	return b.String()
}

func (f *Flow) distributeEdit(input string) (Output, error) {
	if strings.EqualFold(input, "done") {
		if spent := SpentPoints(f.current, f.baseline); spent > f.pool {
			return Output{Text: fmt.Sprintf("Spending %dpt exceeds your balance of %dpt. Adjust first.", spent, f.pool)}, nil
		}
		f.step = StepConfirm
		return Output{Text: "Reviewing the distribution.", AutoContinue: true, WaitSeconds: 1}, nil
	}

	parts := strings.Fields(input)
	if len(parts) != 2 {
		return Output{Text: "That doesn't parse. Use <number> <delta>, for example 1 +1."}, nil
	}
	index, err1 := strconv.Atoi(parts[0])
	delta, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return Output{Text: "That doesn't parse. Use <number> <delta>, for example 1 +1."}, nil
	}
	if index < 1 || index > len(registry.SkillNames) {
		return Output{Text: "That skill number is out of range."}, nil
	}

	name := registry.SkillNames[index-1]
	before := f.current[name]
	after := before + delta

	if after < registry.SkillLevelMin || after > registry.SkillLevelMax {
		return Output{Text: fmt.Sprintf("That would take %s outside %d..%d.", name, registry.SkillLevelMin, registry.SkillLevelMax)}, nil
	}
	if after < f.baseline[name] {
		return Output{Text: fmt.Sprintf("%s cannot drop below this round's starting %+d.", name, f.baseline[name])}, nil
	}

	f.current[name] = after
	if spent := SpentPoints(f.current, f.baseline); spent > f.pool {
		f.current[name] = before
		return Output{Text: fmt.Sprintf("Not enough points: that costs %dpt against a balance of %dpt.", spent, f.pool)}, nil
	}
	return Output{Text: f.renderDistribution()}, nil
}

func (f *Flow) confirmDistribution() (Output, error) {
	spent := max(SpentPoints(f.current, f.baseline), 0)
	var b strings.Builder
	b.WriteString("Confirm the skill growth:\n\n")
	for _, name := range registry.SkillNames {
		fmt.Fprintf(&b, "- %s: %+d (was %+d)\n", name, f.current[name], f.baseline[name])
	}
	fmt.Fprintf(&b, "\nGranted %dpt + carried %dpt = %dpt balance\n", f.GrantedPoints, f.carryOver, f.pool)
	fmt.Fprintf(&b, "Spent %dpt, %dpt remaining and carried over\n\n", spent, f.pool-spent)
	b.WriteString("Lock it in?\n1. Yes, save\n2. No, redo the distribution")

	f.step = StepConfirmChoice
	return Output{Text: b.String()}, nil
}

func (f *Flow) confirmChoice(ctx context.Context, input string) (Output, error) {
	switch input {
	case "1":
		spent := max(SpentPoints(f.current, f.baseline), 0)
		remain := f.pool - spent
		if remain < 0 {
			f.step = StepDistributeEdit
			return Output{Text: "The balance went negative. Adjust the distribution."}, nil
		}
		checks := make(map[string]int, len(f.current))
		for name, level := range f.current {
			checks[name] = level
		}
		f.character.Checks = checks
		f.character.GrowthPool = remain
		if err := f.Characters.SaveCharacter(ctx, f.character); err != nil {
			return Output{}, fmt.Errorf("save growth: %w", err)
		}
		f.step = StepHistoryPropose
		return Output{Text: "Growth saved. Next, the record of this story.", AutoContinue: true, WaitSeconds: 1}, nil
	case "2":
		f.step = StepDistributeEdit
		return Output{Text: f.renderDistribution()}, nil
	default:
		return Output{Text: "Answer 1 or 2."}, nil
	}
}

const historyPrompt = "You write character records for finished tabletop " +
	"role-playing sessions. From the session summary below, write one concise " +
	"third-person record of the player character, around two sentences. Note " +
	"what the character gained, how the story ended for them, and what might " +
	"lie ahead."

func (f *Flow) proposeHistory(ctx context.Context) (Output, error) {
	summary, err := f.Storage.LoadText(f.WorldviewID, f.SessionID, summaryFile)
	if err != nil || strings.TrimSpace(summary) == "" {
		f.Logger.Warn().Err(err).Msg("no closing summary, skipping history record")
		f.step = StepCanonFinalize
		return Output{Text: "No session summary was found; skipping the record.", AutoContinue: true, WaitSeconds: 1}, nil
	}

	res, err := f.Engine.Complete(ctx, ai.Request{
		Caller: "growth.history",
		Tier:   ai.TierVeryHigh,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: historyPrompt},
			{Role: ai.RoleUser, Content: strings.TrimSpace(summary)},
		},
		MaxOutput: 1500,
	})
	if err != nil || strings.TrimSpace(res.Text) == "" {
		f.Logger.Warn().Err(err).Msg("history proposal failed")
		f.step = StepCanonFinalize
		return Output{Text: "The record could not be drafted; moving on.", AutoContinue: true, WaitSeconds: 1}, nil
	}

	f.historyProposal = strings.TrimSpace(res.Text)
	f.step = StepHistoryChoice
	return Output{Text: fmt.Sprintf(
		"Proposed record:\n%q\n\nAdd this to the character's history?\n"+
			"1. Add it\n2. Rewrite it yourself\n3. Skip it\n\nAnswer with a number.",
		f.historyProposal)}, nil
}

func (f *Flow) historyChoice(ctx context.Context, input string) (Output, error) {
	switch input {
	case "1":
		return f.appendHistory(ctx, f.historyProposal, "Growth record added to the character's history.")
	case "2":
		f.step = StepHistoryManual
		return Output{Text: "Enter the record as one sentence."}, nil
	default:
		f.step = StepCanonFinalize
		return Output{Text: "No record was added.", AutoContinue: true, WaitSeconds: 1}, nil
	}
}

func (f *Flow) historyManual(ctx context.Context, input string) (Output, error) {
	if input == "" {
		return Output{Text: "An empty record cannot be added."}, nil
	}
	return f.appendHistory(ctx, input, "Your record was added to the character's history.")
}

func (f *Flow) appendHistory(ctx context.Context, text, confirmation string) (Output, error) {
	f.character.History = append(f.character.History, registry.HistoryEntry{Text: text})
	if err := f.Characters.SaveCharacter(ctx, f.character); err != nil {
		return Output{}, fmt.Errorf("save history: %w", err)
	}
	f.step = StepCanonFinalize
	return Output{Text: confirmation, AutoContinue: true, WaitSeconds: 1}, nil
}

func (f *Flow) finalize(ctx context.Context) (Output, error) {
	if err := f.promoteCanon(ctx); err != nil {
		f.Logger.Warn().Err(err).Msg("canon promotion skipped")
	}
	f.step = StepDone
	return Output{
		Text:     "The story settles into the world. The growth phase is done.",
		Finished: true,
	}, nil
}

// promotedNoun is one canon entry the selection call marked for the
// worldview registry.
type promotedNoun struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Tags []string `json:"tags"`
	Note string   `json:"note"`
	Fame int      `json:"fame"`
}

// sequelCanon is one canon entry reserved for a follow-up scenario.
type sequelCanon struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Tags []string `json:"tags"`
	Note string   `json:"note"`
}

func selectionSchema() *ai.Schema {
	str := map[string]any{"type": "string"}
	tags := map[string]any{"type": "array", "items": str}
	return &ai.Schema{
		Name: "canon_selection",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"worldview", "sequel"},
			"properties": map[string]any{
				"worldview": map[string]any{
					"type":     "array",
					"maxItems": maxPromotedNouns,
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"name", "type", "tags", "note", "fame"},
						"properties": map[string]any{
							"name": str,
							"type": str,
							"tags": tags,
							"note": str,
							"fame": map[string]any{
								"type":    "integer",
								"minimum": registry.FameMin,
								"maximum": registry.FameMax,
							},
						},
					},
				},
				"sequel": map[string]any{
					"type":     "array",
					"maxItems": maxSequelCanon,
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []any{"name", "type", "tags", "note"},
						"properties": map[string]any{
							"name": str,
							"type": str,
							"tags": tags,
							"note": str,
						},
					},
				},
			},
		},
	}
}

const selectionPrompt = "You organize the lore of a tabletop role-playing " +
	"world. Below are the world's description and the canon facts this " +
	"scenario established. Sort each fact worth keeping into one of two " +
	"buckets and drop the rest:\n" +
	"- worldview: widely known or deeply rooted facts, available to every " +
	"future scenario\n" +
	"- sequel: facts too local for the world registry but worth carrying " +
	"into a direct follow-up, such as NPCs close to the player character\n" +
	"Rules: at most three worldview entries and five sequel entries, no fact " +
	"in both buckets, and neither bucket needs to be filled. Only worldview " +
	"entries get fame, an integer from 0 to 50 where lower means more widely " +
	"known: 0 is known to everyone, around 10 most have heard of it, around " +
	"20 regional, around 30 specialist knowledge, around 40 a handful of " +
	"people, 50 known to no one living. Avoid names already registered."

// promoteCanon splits the session's canon into worldview nouns and sequel
// seeds, then clears the session scope. Single-scenario gimmicks are
// discarded outright.
func (f *Flow) promoteCanon(ctx context.Context) error {
	all, err := f.Canon.ListCanon(ctx, f.WorldviewID, f.SessionID)
	if err != nil {
		return fmt.Errorf("list canon: %w", err)
	}
	kept := make([]registry.Canon, 0, len(all))
	for _, entry := range all {
		if entry.Type != gimmickType {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	existing, err := f.Nouns.ListNouns(ctx, f.WorldviewID)
	if err != nil {
		return fmt.Errorf("list nouns: %w", err)
	}
	existingBrief := make([]map[string]any, 0, len(existing))
	for _, n := range existing {
		existingBrief = append(existingBrief, map[string]any{
			"name": n.Name, "type": n.Type, "note": n.Notes, "fame": n.Fame,
		})
	}

	canonJSON, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode canon: %w", err)
	}
	nounsJSON, err := json.Marshal(existingBrief)
	if err != nil {
		return fmt.Errorf("encode nouns: %w", err)
	}

	prompt := fmt.Sprintf(
		"World description:\n%s\n\nAlready registered names (do not duplicate):\n%s\n\nCanon facts to sort:\n%s",
		f.Worldview.LongDescription, nounsJSON, canonJSON)

	res, err := f.Engine.Complete(ctx, ai.Request{
		Caller: "growth.canon",
		Tier:   ai.TierVeryHigh,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: selectionPrompt},
			{Role: ai.RoleUser, Content: prompt},
		},
		MaxOutput: 3000,
		Schema:    selectionSchema(),
	})
	if err != nil {
		return fmt.Errorf("select canon: %w", err)
	}

	var selection struct {
		Worldview []promotedNoun `json:"worldview"`
		Sequel    []sequelCanon  `json:"sequel"`
	}
	if err := json.Unmarshal(res.Value, &selection); err != nil {
		return fmt.Errorf("decode selection: %w", err)
	}

	for _, entry := range selection.Worldview {
		noun, err := registry.CreateNoun(registry.Noun{
			WorldviewID: f.WorldviewID,
			Name:        entry.Name,
			Type:        entry.Type,
			Tags:        entry.Tags,
			Notes:       entry.Note,
			Fame:        entry.Fame,
		}, f.Now, f.NewID)
		if err != nil {
			f.Logger.Warn().Err(err).Str("name", entry.Name).Msg("promoted noun rejected")
			continue
		}
		if err := f.Nouns.SaveNoun(ctx, noun); err != nil {
			return fmt.Errorf("save noun %q: %w", entry.Name, err)
		}
	}

	if err := f.Storage.SaveSessionJSON(f.WorldviewID, f.SessionID, sequelCanonFile, selection.Sequel); err != nil {
		return fmt.Errorf("save sequel canon: %w", err)
	}
	if err := f.Canon.DeleteSessionCanon(ctx, f.WorldviewID, f.SessionID); err != nil {
		return fmt.Errorf("clear session canon: %w", err)
	}

	f.Logger.Info().
		Int("nouns", len(selection.Worldview)).
		Int("sequel", len(selection.Sequel)).
		Msg("canon promoted")
	return nil
}
