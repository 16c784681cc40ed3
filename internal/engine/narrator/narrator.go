// Package narrator turns structured turn results into player-facing prose.
// It never persists anything: the Director decides what changed, the
// narrator only decides how it reads.
package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/engine/director"
)

// Narrator renders prose for one session.
type Narrator struct {
	Engine ai.Engine
	Logger zerolog.Logger
}

const renderPrompt = "You narrate a solo tabletop role-playing session in " +
	"second person, present tense. Render the turn described by the " +
	"structured progression below into one or two paragraphs. Work every " +
	"plot point from flow.pts into the prose. Never mention the structure " +
	"itself."

// cueClosing is the mandatory closing behavior per cue.
var cueClosing = map[director.Cue]string{
	director.CueAction: "Close by inviting the player to attempt the action, making clear a judgment roll will decide it.",
	director.CueCombat: "Close by asking the player to declare a combat strategy.",
	director.CueEnd:    "Close the scene with finality. Do not invite a judgment, a fight, or a choice.",
	director.CueNone:   "Close by offering two or three concrete things the player might do next.",
}

// Render produces the narration for an accepted Progression.
func (n *Narrator) Render(ctx context.Context, progression director.Progression, playerInput string, tc director.Context) (string, error) {
	structured, err := json.Marshal(progression)
	if err != nil {
		return "", fmt.Errorf("marshal progression: %w", err)
	}

	closing := cueClosing[progression.Cue]
	if closing == "" {
		closing = cueClosing[director.CueNone]
	}

	messages := make([]ai.Message, 0, len(tc.History)+4)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: renderPrompt + " " + closing})
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, tc.History...)
	messages = append(messages,
		ai.Message{Role: ai.RoleUser, Content: playerInput},
		ai.Message{Role: ai.RoleSystem, Content: "Turn progression:\n" + string(structured)},
	)

	res, err := n.Engine.Complete(ctx, ai.Request{
		Caller:    "narrator.render",
		Tier:      ai.TierHigh,
		Messages:  messages,
		MaxOutput: 3000,
	})
	if err != nil {
		return "", fmt.Errorf("render narration: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// RenderIntro narrates a chapter or section opening from its plan text. The
// first chapter gets a long-form opening that settles the player into the
// world; later intros stay brief.
func (n *Narrator) RenderIntro(ctx context.Context, chapter int, planText string, tc director.Context) (string, error) {
	var length string
	if chapter <= 1 {
		length = "Write three to four paragraphs: establish the world, the character's situation, and the first scene."
	} else {
		length = "Write one or two paragraphs picking the story back up."
	}

	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: "You narrate a solo tabletop role-playing session in second person, present tense. Open the upcoming part of the story. " + length + " End by handing the initiative to the player."},
	}
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: "Upcoming plan:\n" + planText})

	res, err := n.Engine.Complete(ctx, ai.Request{
		Caller:    "narrator.intro",
		Tier:      ai.TierHigh,
		Messages:  messages,
		MaxOutput: 2500,
	})
	if err != nil {
		return "", fmt.Errorf("render intro: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// Reply answers a non-mutating utterance (rules questions, recaps, out-of-
// character asides) grounded in the same context, without touching state.
func (n *Narrator) Reply(ctx context.Context, playerInput string, tc director.Context) (string, error) {
	messages := make([]ai.Message, 0, len(tc.History)+3)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: "You are the game master of a solo tabletop role-playing session. Answer the player's question or remark helpfully and briefly, grounded in the established facts below. Do not advance the story."})
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, tc.History...)
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: playerInput})

	res, err := n.Engine.Complete(ctx, ai.Request{
		Caller:    "narrator.reply",
		Tier:      ai.TierMedium,
		Messages:  messages,
		MaxOutput: 1500,
	})
	if err != nil {
		return "", fmt.Errorf("render reply: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
