// Package intent classifies a player utterance before the turn pipeline
// decides how to handle it.
package intent

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
)

// Category is the closed set of utterance intents.
type Category string

const (
	// CategoryAction is an in-world attempt to do something.
	CategoryAction Category = "action"
	// CategoryTalk is in-world speech directed at a character.
	CategoryTalk Category = "talk"
	// CategoryInfoRequest asks about established facts or the character sheet.
	CategoryInfoRequest Category = "info_request"
	// CategoryGMQuery asks the game master an out-of-world question.
	CategoryGMQuery Category = "gm_query"
	// CategorySystem is a request about the program itself.
	CategorySystem Category = "system"
	// CategoryInvalid is input that cannot be acted on at all.
	CategoryInvalid Category = "invalid"
	// CategoryOther is everything else and the safe fallback when
	// classification fails.
	CategoryOther Category = "other"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryAction,
	CategoryTalk,
	CategoryInfoRequest,
	CategoryGMQuery,
	CategorySystem,
	CategoryInvalid,
	CategoryOther,
}

// Mutating reports whether this intent runs the progression pipeline.
func (c Category) Mutating() bool {
	return c == CategoryAction || c == CategoryTalk
}

// Router classifies utterances through the completion service.
type Router struct {
	Engine ai.Engine
	Logger zerolog.Logger
}

const classifyPrompt = "You route player input for a solo tabletop " +
	"role-playing session. Classify the final user message given the " +
	"recent conversation. Categories: action (the character attempts " +
	"something in the world), talk (the character speaks to someone), " +
	"info_request (the player asks about established facts, inventory, or " +
	"their character), gm_query (an out-of-character question to the game " +
	"master), system (a request about the program itself), invalid " +
	"(unusable input), other (anything else)."

func schema() *ai.Schema {
	enum := make([]any, len(Categories))
	for i, c := range Categories {
		enum[i] = string(c)
	}
	return &ai.Schema{
		Name: "intent",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"category"},
			"properties": map[string]any{
				"category": map[string]any{"type": "string", "enum": enum},
			},
		},
	}
}

// Classify returns the category of one utterance. Any failure, transport or
// schema, degrades to CategoryOther so the turn always proceeds.
func (r *Router) Classify(ctx context.Context, utterance string, history []ai.Message) Category {
	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: classifyPrompt})
	messages = append(messages, history...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: utterance})

	res, err := r.Engine.Complete(ctx, ai.Request{
		Caller:    "intent.classify",
		Tier:      ai.TierLow,
		Messages:  messages,
		MaxOutput: 500,
		Schema:    schema(),
	})
	if err != nil {
		r.Logger.Warn().Err(err).Msg("intent classification failed, defaulting to other")
		return CategoryOther
	}

	var parsed struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(res.Value, &parsed); err != nil {
		r.Logger.Warn().Err(err).Msg("intent decode failed, defaulting to other")
		return CategoryOther
	}
	return Category(parsed.Category)
}
