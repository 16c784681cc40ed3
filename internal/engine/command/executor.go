package command

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/registry"
)

// CharacterStore is the slice of the registry the executor mutates for
// inventory and personal history.
type CharacterStore interface {
	GetCharacter(ctx context.Context, characterID string) (registry.Character, error)
	SaveCharacter(ctx context.Context, c registry.Character) error
}

// CanonStore is the slice of the registry the executor mutates for lore.
type CanonStore interface {
	ListCanon(ctx context.Context, worldviewID, sessionID string) ([]registry.Canon, error)
	SaveCanon(ctx context.Context, c registry.Canon) error
}

// Executor applies commands for one session. A failed command is logged and
// skipped; it never aborts the rest of the batch. Execution is not
// idempotent: replaying an identical batch doubles inventory counts.
type Executor struct {
	Characters  CharacterStore
	Canon       CanonStore
	WorldviewID string
	SessionID   string
	CharacterID string
	Logger      zerolog.Logger

	// Now and NewID default to time.Now and the platform id generator;
	// injectable for deterministic tests.
	Now   func() time.Time
	NewID func() (string, error)
}

// Execute applies the batch in order and returns how many commands applied.
// chapter stamps canon history entries.
func (e *Executor) Execute(ctx context.Context, commands []Command, chapter int) int {
	applied := 0
	for _, cmd := range commands {
		if err := e.apply(ctx, cmd, chapter); err != nil {
			e.Logger.Warn().
				Err(err).
				Str("op", string(cmd.Op)).
				Str("name", cmd.Name).
				Msg("command skipped")
			continue
		}
		applied++
	}
	return applied
}

func (e *Executor) apply(ctx context.Context, cmd Command, chapter int) error {
	switch cmd.Op {
	case OpAddItem:
		return e.addItem(ctx, cmd)
	case OpRemoveItem:
		return e.removeItem(ctx, cmd)
	case OpAddHistory:
		return e.addHistory(ctx, cmd, chapter)
	case OpCreateCanon:
		return e.createCanon(ctx, cmd)
	default:
		return errUnknownOp(cmd.Op)
	}
}

func (e *Executor) addItem(ctx context.Context, cmd Command) error {
	character, err := e.Characters.GetCharacter(ctx, e.CharacterID)
	if err != nil {
		return err
	}

	count := cmd.Count
	if count < 1 {
		count = 1
	}
	found := false
	for i := range character.Items {
		if character.Items[i].Name == cmd.Name {
			character.Items[i].Count += count
			if cmd.Note != "" {
				character.Items[i].Description = cmd.Note
			}
			found = true
			break
		}
	}
	if !found {
		character.Items = append(character.Items, registry.Item{
			Name:        cmd.Name,
			Count:       count,
			Description: cmd.Note,
		})
	}
	return e.Characters.SaveCharacter(ctx, character)
}

func (e *Executor) removeItem(ctx context.Context, cmd Command) error {
	character, err := e.Characters.GetCharacter(ctx, e.CharacterID)
	if err != nil {
		return err
	}

	count := cmd.Count
	if count < 1 {
		count = 1
	}
	for i := range character.Items {
		if character.Items[i].Name != cmd.Name {
			continue
		}
		character.Items[i].Count -= count
		if character.Items[i].Count <= 0 {
			character.Items = append(character.Items[:i], character.Items[i+1:]...)
		}
		return e.Characters.SaveCharacter(ctx, character)
	}
	return errMissingReference("item", cmd.Name)
}

func (e *Executor) addHistory(ctx context.Context, cmd Command, chapter int) error {
	entries, err := e.Canon.ListCanon(ctx, e.WorldviewID, e.SessionID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Name != cmd.Name {
			continue
		}
		entry.History = append(entry.History, registry.CanonHistory{Chapter: chapter, Text: cmd.Note})
		return e.Canon.SaveCanon(ctx, entry)
	}

	// Unknown target: establish it rather than lose the note.
	e.Logger.Warn().Str("name", cmd.Name).Msg("history target not found, creating unknown canon entry")
	created, err := registry.CreateCanon(registry.Canon{
		WorldviewID: e.WorldviewID,
		SessionID:   e.SessionID,
		Name:        cmd.Name,
		Type:        "unknown",
		History:     []registry.CanonHistory{{Chapter: chapter, Text: cmd.Note}},
	}, e.Now, e.NewID)
	if err != nil {
		return err
	}
	return e.Canon.SaveCanon(ctx, created)
}

func (e *Executor) createCanon(ctx context.Context, cmd Command) error {
	created, err := registry.CreateCanon(registry.Canon{
		WorldviewID: e.WorldviewID,
		SessionID:   e.SessionID,
		Name:        cmd.Name,
		Type:        cmd.Type,
		Notes:       cmd.Note,
	}, e.Now, e.NewID)
	if err != nil {
		return err
	}
	return e.Canon.SaveCanon(ctx, created)
}

type errUnknownOp Op

func (e errUnknownOp) Error() string { return "unknown command op " + string(e) }

type missingReference struct {
	kind string
	name string
}

func errMissingReference(kind, name string) error {
	return missingReference{kind: kind, name: name}
}

func (m missingReference) Error() string {
	return m.kind + " " + m.name + " not found"
}
