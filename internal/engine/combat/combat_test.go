package combat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/ai/aitest"
	"github.com/aldermoor/storyloom/internal/engine/dice"
	"github.com/aldermoor/storyloom/internal/engine/director"
	"github.com/aldermoor/storyloom/internal/registry"
)

func TestAptitudeScore(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]int
		want   int
	}{
		{"empty", nil, 0},
		{"all zero", map[string]int{"might": 0, "hope": 0}, 0},
		{"single positive", map[string]int{"might": 2}, 60},      // 10 x 6
		{"single max", map[string]int{"hope": 3}, 140},           // 10 x 14
		{"negative drags", map[string]int{"might": -3}, -100},    // 10 x -10
		{"mixed", map[string]int{"agility": 3, "craft": -1}, 98}, // 8x14 + 7x-2
		{"unknown skill ignored", map[string]int{"luck": 3}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AptitudeScore(tc.checks); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAptitudeBonusThresholds(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{-50, 0}, {0, 0}, {79, 0},
		{80, 1}, {159, 1},
		{160, 2}, {239, 2},
		{240, 3}, {359, 3},
		{360, 4}, {539, 4},
		{540, 5}, {839, 5},
		{840, 6}, {1199, 6},
		{1200, 7}, {5000, 7},
	}
	for _, tc := range tests {
		if got := AptitudeBonus(tc.score); got != tc.want {
			t.Fatalf("score %d: got %d, want %d", tc.score, got, tc.want)
		}
	}
}

const validEvaluation = `{
  "strategy_score": 2,
  "character_fit_score": 1,
  "reason": {"strategy": "uses the narrow doorway", "character_fit": "cautious as ever"},
  "action": "Vael funnels the raiders through the doorway"
}`

func TestEvaluateDerivesBonuses(t *testing.T) {
	engine := aitest.NewEngine(aitest.Reply{Text: validEvaluation})
	evaluator := &Evaluator{Engine: engine, Logger: zerolog.Nop()}

	character := registry.Character{Checks: map[string]int{"might": 3, "endurance": 2}} // 10x14 + 9x6 = 194
	got, err := evaluator.Evaluate(context.Background(), "hold the doorway", character, director.Context{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if got.StrategyBonus != 3 {
		t.Fatalf("strategy bonus %d", got.StrategyBonus)
	}
	if got.AptitudeScore != 194 || got.AptitudeBonus != 2 {
		t.Fatalf("aptitude %d -> %d", got.AptitudeScore, got.AptitudeBonus)
	}
	if got.TotalBonus != 5 {
		t.Fatalf("total bonus %d", got.TotalBonus)
	}
}

func TestEvaluateRejectsOutOfRangeScores(t *testing.T) {
	bad := strings.Replace(validEvaluation, `"strategy_score": 2`, `"strategy_score": 3`, 1)
	evaluator := &Evaluator{Engine: aitest.NewEngine(aitest.Reply{Text: bad}), Logger: zerolog.Nop()}

	_, err := evaluator.Evaluate(context.Background(), "x", registry.Character{}, director.Context{})
	if !errors.Is(err, ai.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestReviseCarriesPriorAndObjection(t *testing.T) {
	engine := aitest.NewEngine(aitest.Reply{Text: validEvaluation})
	evaluator := &Evaluator{Engine: engine, Logger: zerolog.Nop()}

	prior := Evaluation{StrategyScore: 0, Reason: Reason{Strategy: "charging blind"}}
	if _, err := evaluator.Revise(context.Background(), prior, "I meant to feint first", registry.Character{}, director.Context{}); err != nil {
		t.Fatalf("revise: %v", err)
	}

	messages := engine.Requests()[0].Messages
	content := messages[len(messages)-1].Content
	if !strings.Contains(content, "feint first") || !strings.Contains(content, "charging blind") {
		t.Fatalf("revision context missing: %q", content)
	}
}

func TestResolve(t *testing.T) {
	evaluation := Evaluation{TotalBonus: 3}

	result, err := Resolve(evaluation, 2, 2) // 4 + 3 = 7 >= 7
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Outcome != dice.OutcomeSuccess {
		t.Fatalf("got %s", result.Outcome)
	}

	result, err = Resolve(Evaluation{}, 2, 2) // 4 < 7
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Outcome != dice.OutcomeFailure {
		t.Fatalf("got %s", result.Outcome)
	}

	result, err = Resolve(evaluation, 6, 6)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Outcome != dice.OutcomeCritical {
		t.Fatalf("got %s", result.Outcome)
	}
}
