package game

import (
	"context"
	"fmt"
	"strings"

	"github.com/aldermoor/storyloom/internal/engine/director"
	"github.com/aldermoor/storyloom/internal/engine/plan"
	"github.com/aldermoor/storyloom/internal/registry"
)

// levelLabel maps a character level onto the scale rubric shown to the
// player and fed to planning prompts.
func levelLabel(level int) string {
	switch {
	case level <= 0:
		return "an ordinary person"
	case level <= 3:
		return "a novice adventurer"
	case level <= 6:
		return "a seasoned professional"
	case level <= 10:
		return "superhuman"
	case level <= 13:
		return "the stuff of legends"
	default:
		return "a peer of gods and spirits"
	}
}

// contextBuilder assembles the registry-backed prose snippets every
// completion call is grounded in.
type contextBuilder struct {
	registry    Registry
	worldviewID string
	sessionID   string
	characterID string

	// draft returns the scenario outline, empty before one exists.
	draft func() plan.Draft
}

// Build renders the current registry state as a director context. The
// driver fills in plan, section, history, and continuation itself.
func (b *contextBuilder) Build(ctx context.Context) (director.Context, error) {
	worldview, err := b.registry.GetWorldview(ctx, b.worldviewID)
	if err != nil {
		return director.Context{}, fmt.Errorf("build context: %w", err)
	}
	character, err := b.registry.GetCharacter(ctx, b.characterID)
	if err != nil {
		return director.Context{}, fmt.Errorf("build context: %w", err)
	}
	canon, err := b.registry.ListCanon(ctx, b.worldviewID, b.sessionID)
	if err != nil {
		return director.Context{}, fmt.Errorf("build context: %w", err)
	}
	nouns, err := b.registry.ListNouns(ctx, b.worldviewID)
	if err != nil {
		return director.Context{}, fmt.Errorf("build context: %w", err)
	}
	registry.SortNounsByFame(nouns)

	return director.Context{
		Scenario:       renderDraft(b.draft()),
		Worldview:      renderWorldview(worldview),
		CharacterSheet: renderCharacter(character),
		Canon:          renderCanon(canon),
		Nouns:          renderNouns(nouns),
	}, nil
}

// Snippets is the compaction-prompt variant: a short roster of the proper
// nouns a summary must keep straight. Best effort; an empty string just
// means an ungrounded summary prompt.
func (b *contextBuilder) Snippets() string {
	ctx := context.Background()
	var parts []string

	if worldview, err := b.registry.GetWorldview(ctx, b.worldviewID); err == nil {
		parts = append(parts, fmt.Sprintf("World: %s. %s", worldview.Name, worldview.Description))
	}
	if character, err := b.registry.GetCharacter(ctx, b.characterID); err == nil {
		parts = append(parts, "Player character: "+character.Name)
	}
	if nouns, err := b.registry.ListNouns(ctx, b.worldviewID); err == nil && len(nouns) > 0 {
		names := make([]string, 0, len(nouns))
		for _, n := range nouns {
			names = append(names, n.Name)
		}
		parts = append(parts, "Known names: "+strings.Join(names, ", "))
	}
	if canon, err := b.registry.ListCanon(ctx, b.worldviewID, b.sessionID); err == nil && len(canon) > 0 {
		names := make([]string, 0, len(canon))
		for _, c := range canon {
			names = append(names, c.Name)
		}
		parts = append(parts, "Established this session: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n")
}

func renderDraft(draft plan.Draft) string {
	if draft.Title == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nGoal: %s\n%s\n", draft.Title, draft.Goal, draft.Summary)
	for i, chapter := range draft.Chapters {
		fmt.Fprintf(&b, "Chapter %d: %s. %s\n", i+1, chapter.Title, chapter.Overview)
	}
	return b.String()
}

func renderWorldview(w registry.Worldview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", w.Name, w.Description)
	if w.LongDescription != "" {
		b.WriteString(w.LongDescription)
		b.WriteString("\n")
	}
	if w.Genre != "" || w.Tone != "" {
		fmt.Fprintf(&b, "Genre: %s. Tone: %s.\n", w.Genre, w.Tone)
	}
	return b.String()
}

func renderCharacter(c registry.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, level %d (%s).\n", c.Name, c.Level, levelLabel(c.Level))
	if c.Background != "" {
		b.WriteString(c.Background)
		b.WriteString("\n")
	}

	var skills []string
	for _, name := range registry.SkillNames {
		if level := c.Checks[name]; level != 0 {
			skills = append(skills, fmt.Sprintf("%s %+d", name, level))
		}
	}
	if len(skills) > 0 {
		b.WriteString("Skills: " + strings.Join(skills, ", ") + "\n")
	}

	if len(c.Items) > 0 {
		b.WriteString("Inventory:\n")
		for _, item := range c.Items {
			fmt.Fprintf(&b, "- %s x%d", item.Name, item.Count)
			if item.Description != "" {
				b.WriteString(": " + item.Description)
			}
			b.WriteString("\n")
		}
	}
	if len(c.History) > 0 {
		b.WriteString("Past records:\n")
		for _, entry := range c.History {
			b.WriteString("- " + entry.Text + "\n")
		}
	}
	return b.String()
}

func renderCanon(canon []registry.Canon) string {
	if len(canon) == 0 {
		return ""
	}
	var b strings.Builder
	for _, entry := range canon {
		fmt.Fprintf(&b, "- %s (%s): %s\n", entry.Name, entry.Type, entry.Notes)
		for _, h := range entry.History {
			fmt.Fprintf(&b, "  chapter %d: %s\n", h.Chapter, h.Text)
		}
	}
	return b.String()
}

func renderNouns(nouns []registry.Noun) string {
	if len(nouns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range nouns {
		fmt.Fprintf(&b, "- %s (%s, fame %d): %s\n", n.Name, n.Type, n.Fame, n.Notes)
	}
	return b.String()
}
