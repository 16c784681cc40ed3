// Package combat runs the combat judgment sub-flow: score the player's
// declared strategy on two narrative axes, add a quantized aptitude bonus
// derived from the character sheet, then score the roll.
package combat

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

// skillWeights grades how much each skill matters in a fight.
var skillWeights = map[string]int{
	"perception": 4,
	"agility":    8,
	"might":      10,
	"intellect":  5,
	"intuition":  9,
	"stealth":    7,
	"insight":    6,
	"craft":      7,
	"persuasion": 3,
	"will":       8,
	"endurance":  9,
	"hope":       10,
}

// levelMultipliers is convex: high levels pay off more than low levels cost.
var levelMultipliers = map[int]int{
	-3: -10,
	-2: -5,
	-1: -2,
	0:  0,
	1:  2,
	2:  6,
	3:  14,
}

// aptitudeThresholds quantizes the weighted score into a 0..7 bonus.
var aptitudeThresholds = []struct {
	score int
	bonus int
}{
	{1200, 7},
	{840, 6},
	{540, 5},
	{360, 4},
	{240, 3},
	{160, 2},
	{80, 1},
}

// DefaultTarget is the roll target for combat judgments. The strategy and
// aptitude bonuses swing the odds; the target itself stays fixed mid-band.
const DefaultTarget = 7

// AptitudeScore sums weight[skill] x multiplier[level] over the character's
// checks. Unknown skills and out-of-range levels contribute nothing.
func AptitudeScore(checks map[string]int) int {
	score := 0
	for skill, level := range checks {
		score += skillWeights[skill] * levelMultipliers[level]
	}
	return score
}

// AptitudeBonus quantizes an aptitude score into the 0..7 bonus band.
func AptitudeBonus(score int) int {
	for _, threshold := range aptitudeThresholds {
		if score >= threshold.score {
			return threshold.bonus
		}
	}
	return 0
}

// Reason carries the explanation for each scored axis.
type Reason struct {
	Strategy     string `json:"strategy"`
	CharacterFit string `json:"character_fit"`
}

// Evaluation is a scored combat strategy. The scored fields come from the
// completion service; the derived fields are computed locally.
type Evaluation struct {
	StrategyScore     int    `json:"strategy_score"`
	CharacterFitScore int    `json:"character_fit_score"`
	Reason            Reason `json:"reason"`
	Action            string `json:"action"`

	StrategyBonus int `json:"strategy_bonus"`
	AptitudeScore int `json:"aptitude_score"`
	AptitudeBonus int `json:"aptitude_bonus"`
	TotalBonus    int `json:"total_bonus"`
}

func schema() *ai.Schema {
	axis := map[string]any{"type": "integer", "minimum": 0, "maximum": 2}
	return &ai.Schema{
		Name: "combat_evaluation",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"strategy_score", "character_fit_score", "reason", "action"},
			"properties": map[string]any{
				"strategy_score":      axis,
				"character_fit_score": axis,
				"reason": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"strategy", "character_fit"},
					"properties": map[string]any{
						"strategy":      map[string]any{"type": "string"},
						"character_fit": map[string]any{"type": "string"},
					},
				},
				"action": map[string]any{"type": "string"},
			},
		},
	}
}

// Evaluator scores combat strategies.
type Evaluator struct {
	Engine ai.Engine
	Logger zerolog.Logger
}

const evaluatePrompt = "You referee combat in a solo tabletop role-playing " +
	"session. Score the player's declared strategy on two axes. " +
	"strategy_score: 2 = effective and well suited to the situation, 1 = " +
	"reasonable, 0 = ineffective or self-contradictory. A sound escape plan " +
	"counts as a valid goal. character_fit_score: 2 = strongly in " +
	"character, 1 = unremarkable, 0 = against the character's nature. Give " +
	"a short concrete reason for each, and restate the action the " +
	"character actually takes in one sentence."

// Evaluate scores a declared strategy and derives the total bonus from the
// character's skill levels.
func (e *Evaluator) Evaluate(ctx context.Context, strategy string, character registry.Character, tc director.Context) (Evaluation, error) {
	return e.call(ctx, character, tc, ai.Message{Role: ai.RoleUser, Content: strategy})
}

// Revise re-scores with the player's objection appended to the prior
// evaluation; same call shape as Evaluate.
func (e *Evaluator) Revise(ctx context.Context, prior Evaluation, objection string, character registry.Character, tc director.Context) (Evaluation, error) {
	priorRaw, err := json.Marshal(prior)
	if err != nil {
		return Evaluation{}, fmt.Errorf("marshal prior evaluation: %w", err)
	}
	content := fmt.Sprintf("Prior evaluation: %s\nPlayer objection: %s\nRe-evaluate the adjusted strategy.", priorRaw, objection)
	return e.call(ctx, character, tc, ai.Message{Role: ai.RoleUser, Content: content})
}

func (e *Evaluator) call(ctx context.Context, character registry.Character, tc director.Context, user ai.Message) (Evaluation, error) {
	messages := make([]ai.Message, 0, len(tc.History)+3)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: evaluatePrompt})
	if contextPrompt := tc.Prompt(); contextPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: contextPrompt})
	}
	messages = append(messages, tc.History...)
	messages = append(messages, user)

	res, err := e.Engine.Complete(ctx, ai.Request{
		Caller:    "combat.evaluate",
		Tier:      ai.TierMedium,
		Messages:  messages,
		MaxOutput: 700,
		Schema:    schema(),
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate strategy: %w", err)
	}

	var evaluation Evaluation
	if err := json.Unmarshal(res.Value, &evaluation); err != nil {
		return Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}

	evaluation.StrategyBonus = evaluation.StrategyScore + evaluation.CharacterFitScore
	evaluation.AptitudeScore = AptitudeScore(character.Checks)
	evaluation.AptitudeBonus = AptitudeBonus(evaluation.AptitudeScore)
	evaluation.TotalBonus = evaluation.StrategyBonus + evaluation.AptitudeBonus

	e.Logger.Debug().
		Int("strategy_bonus", evaluation.StrategyBonus).
		Int("aptitude_bonus", evaluation.AptitudeBonus).
		Msg("combat strategy evaluated")
	return evaluation, nil
}

// Resolve scores a combat roll with the evaluation's total bonus as the
// modifier, against the fixed combat target.
func Resolve(evaluation Evaluation, die1, die2 int) (dice.Result, error) {
	result, err := dice.Resolve(die1, die2, evaluation.TotalBonus, DefaultTarget)
	if err != nil {
		return dice.Result{}, fmt.Errorf("resolve combat: %w", err)
	}
	return result, nil
}
