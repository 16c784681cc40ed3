// Package check runs the action-check judgment sub-flow: propose a skill and
// target, let the player contest it, then score the roll.
package check

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/engine/dice"
	"github.com/aldermoor/storyloom/internal/engine/director"
	"github.com/aldermoor/storyloom/internal/registry"
)

// Plan is a proposed judgment: which skill is tested, against what target,
// and why. The player may contest it before the roll.
type Plan struct {
	Skill  string `json:"skill"`
	Target int    `json:"target"`
	Reason string `json:"reason"`
	Action string `json:"action"`
}

func schema() *ai.Schema {
	skills := make([]any, len(registry.SkillNames))
	for i, name := range registry.SkillNames {
		skills[i] = name
	}
	return &ai.Schema{
		Name: "judgment_plan",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"skill", "target", "reason", "action"},
			"properties": map[string]any{
				"skill":  map[string]any{"type": "string", "enum": skills},
				"target": map[string]any{"type": "integer", "minimum": dice.TargetMin, "maximum": dice.TargetMax},
				"reason": map[string]any{"type": "string"},
				"action": map[string]any{"type": "string"},
			},
		},
	}
}

// Checker proposes and revises judgment plans.
type Checker struct {
	Engine ai.Engine
	Logger zerolog.Logger
}

const proposePrompt = "You referee skill checks in a solo tabletop " +
	"role-playing session. For the attempted action, pick the single most " +
	"fitting skill, set a target from 2 (trivial) to 13 (nearly impossible, " +
	"only a critical succeeds), explain the stakes in one or two sentences, " +
	"and restate the attempted action in one sentence. Targets of 6 to 8 " +
	"suit routine risky actions."

// Propose asks for a judgment plan for the attempted action.
func (c *Checker) Propose(ctx context.Context, playerInput string, tc director.Context) (Plan, error) {
	return c.call(ctx, tc, ai.Message{Role: ai.RoleUser, Content: playerInput})
}

// Revise re-proposes with the player's objection appended; same call shape,
// not a separate path.
func (c *Checker) Revise(ctx context.Context, prior Plan, objection string, tc director.Context) (Plan, error) {
	priorRaw, err := json.Marshal(prior)
	if err != nil {
		return Plan{}, fmt.Errorf("marshal prior plan: %w", err)
	}
	content := fmt.Sprintf("Prior proposal: %s\nPlayer objection: %s\nPropose an adjusted judgment.", priorRaw, objection)
	return c.call(ctx, tc, ai.Message{Role: ai.RoleUser, Content: content})
}

func (c *Checker) call(ctx context.Context, tc director.Context, user ai.Message) (Plan, error) {
	messages := make([]ai.Message, 0, len(tc.History)+3)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: proposePrompt})
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, tc.History...)
	messages = append(messages, user)

	res, err := c.Engine.Complete(ctx, ai.Request{
		Caller:    "check.propose",
		Tier:      ai.TierMedium,
		Messages:  messages,
		MaxOutput: 700,
		Schema:    schema(),
	})
	if err != nil {
		return Plan{}, fmt.Errorf("propose judgment: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(res.Value, &plan); err != nil {
		return Plan{}, fmt.Errorf("decode judgment: %w", err)
	}
	return plan, nil
}

// Resolve scores a roll against the plan using the character's level in the
// tested skill as the modifier.
func Resolve(plan Plan, character registry.Character, die1, die2 int) (dice.Result, error) {
	modifier := character.Checks[plan.Skill]
	result, err := dice.Resolve(die1, die2, modifier, plan.Target)
	if err != nil {
		return dice.Result{}, fmt.Errorf("resolve %s check: %w", plan.Skill, err)
	}
	return result, nil
}
