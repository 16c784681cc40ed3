package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/engine/check"
	"github.com/aldermoor/storyloom/internal/engine/combat"
	"github.com/aldermoor/storyloom/internal/engine/command"
	"github.com/aldermoor/storyloom/internal/engine/convlog"
	"github.com/aldermoor/storyloom/internal/engine/dice"
	"github.com/aldermoor/storyloom/internal/engine/director"
	"github.com/aldermoor/storyloom/internal/engine/intent"
	"github.com/aldermoor/storyloom/internal/engine/narrator"
	"github.com/aldermoor/storyloom/internal/engine/plan"
	"github.com/aldermoor/storyloom/internal/registry"
)

// Output is one driver response to the presentation layer.
type Output struct {
	Text string

	// AutoContinue asks the caller to invoke Continue after WaitSeconds
	// instead of waiting for input.
	AutoContinue bool
	WaitSeconds  int

	// RequestDiceRoll suspends the flow until HandleDice is called.
	RequestDiceRoll bool

	// Finished marks scenario completion; the session moves on to
	// character growth.
	Finished bool
}

const apology = "Something went wrong behind the screen. Give me a moment and try that again."

const helpText = "You are playing a solo story. Say what your character does " +
	"or says and the story moves; ask questions out of character and the " +
	"game master answers. When a judgment is proposed you can accept it or " +
	"argue for a different read before the dice decide."

// Driver sequences one scenario session through its typed steps.
type Driver struct {
	State     *State
	Log       *convlog.Log
	Engine    ai.Engine
	Intent    *intent.Router
	Director  *director.Director
	Narrator  *narrator.Narrator
	Executor  *command.Executor
	Checker   *check.Checker
	Evaluator *combat.Evaluator
	Plans     *plan.Generator
	Logger    zerolog.Logger

	// Character loads the current player character for judgment modifiers.
	Character func(ctx context.Context) (registry.Character, error)
	// BaseContext supplies the registry-backed prose snippets; the driver
	// fills in plan, section, history, phase, and continuation itself.
	BaseContext func(ctx context.Context) (director.Context, error)
	// SummaryFile persists the closing narrative summary.
	SummaryFile func(text string) error

	step        Step
	draft       plan.Draft
	currentPlan plan.Plan

	pendingInput string
	pendingCheck *check.Plan
	pendingEval  *combat.Evaluation
}

// Step reports the driver's current step.
func (d *Driver) Step() Step { return d.step }

// Start enters (or re-enters) the scenario at session start.
func (d *Driver) Start(ctx context.Context) (Output, error) {
	draft, err := d.Plans.LoadDraft()
	if err != nil {
		return Output{}, fmt.Errorf("start scenario: %w", err)
	}
	d.draft = draft
	d.step = StepSessionStart
	return d.run(ctx)
}

// Continue advances after an AutoContinue output.
func (d *Driver) Continue(ctx context.Context) (Output, error) {
	return d.run(ctx)
}

// run ticks internal steps until one produces output or blocks.
func (d *Driver) run(ctx context.Context) (Output, error) {
	for {
		if d.step.WaitsForInput() || d.step.WaitsForDice() || d.step == StepDone {
			return Output{}, nil
		}
		out, err := d.tick(ctx)
		if err != nil {
			return Output{}, err
		}
		if out.Text != "" || out.RequestDiceRoll || out.Finished {
			return out, nil
		}
	}
}

// tick handles exactly one non-blocking step.
func (d *Driver) tick(ctx context.Context) (Output, error) {
	switch d.step {
	case StepSessionStart:
		return d.sessionStart()
	case StepLogRestore:
		return d.logRestore()
	case StepChapterStart:
		return d.chapterStart(ctx)
	case StepSectionSelect:
		return d.sectionSelect(ctx)
	case StepCheckInit:
		return d.checkInit(ctx)
	case StepCombatInit:
		return d.combatInit(ctx)
	case StepCheckResult:
		return Output{}, fmt.Errorf("check result requires dice")
	case StepCombatResult:
		return Output{}, fmt.Errorf("combat result requires dice")
	case StepCheckFinalize:
		return d.judgmentFinalize(ctx, "post_check")
	case StepCombatFinalize:
		return d.judgmentFinalize(ctx, "post_combat")
	case StepFinalize:
		return d.finalize(ctx)
	case StepIntentRoute, StepCheckConfirm, StepCombatConfirm, StepDiceRequest, StepDone:
		return Output{}, fmt.Errorf("step %s blocks on external input", d.step)
	}
	return Output{}, fmt.Errorf("unhandled step %s", d.step)
}

func (d *Driver) sessionStart() (Output, error) {
	if d.State.Chapter == 0 {
		d.step = StepChapterStart
		return Output{}, nil
	}
	d.step = StepLogRestore
	return Output{}, nil
}

// logRestore replays the latest narration so a resumed session picks up
// mid-scene.
func (d *Driver) logRestore() (Output, error) {
	loaded, err := d.Plans.Load(d.State.Chapter)
	if err != nil {
		return Output{}, fmt.Errorf("restore chapter plan: %w", err)
	}
	d.currentPlan = loaded

	var recap string
	full := d.Log.Full()
	for i := len(full) - 1; i >= 0; i-- {
		if full[i].Role == convlog.RoleAssistant {
			recap = full[i].Content
			break
		}
	}
	d.step = StepIntentRoute
	if recap == "" {
		return Output{Text: "The story picks up where it left off."}, nil
	}
	return Output{Text: "Previously:\n\n" + recap}, nil
}

func (d *Driver) chapterStart(ctx context.Context) (Output, error) {
	if err := d.State.AdvanceChapter(); err != nil {
		return Output{}, err
	}
	chapter := d.State.Chapter
	if chapter > len(d.draft.Chapters) {
		d.step = StepFinalize
		return Output{}, nil
	}

	if chapter > 1 {
		if err := d.Log.SummarizeNow(ctx); err != nil {
			d.Logger.Warn().Err(err).Msg("chapter boundary summarization skipped")
		}
	}

	loaded, err := d.Plans.Load(chapter)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Output{}, err
		}
		var previous *plan.Plan
		if chapter > 1 {
			if prior, err := d.Plans.Load(chapter - 1); err == nil {
				previous = &prior
			}
		}
		tc, err := d.turnContext(ctx, "action")
		if err != nil {
			return Output{}, err
		}
		loaded, err = d.Plans.Generate(ctx, chapter, d.draft, previous, tc)
		if err != nil {
			return Output{}, fmt.Errorf("plan chapter %d: %w", chapter, err)
		}
	}
	d.currentPlan = loaded

	tc, err := d.turnContext(ctx, "action")
	if err != nil {
		return Output{}, err
	}
	intro, err := d.Narrator.RenderIntro(ctx, chapter, d.currentPlan.Text(), tc)
	if err != nil {
		d.Logger.Error().Err(err).Msg("chapter intro failed")
		intro = apology
	} else if err := d.Log.Append(ctx, convlog.RoleAssistant, intro); err != nil {
		return Output{}, err
	}

	d.step = StepSectionSelect
	return Output{Text: intro, AutoContinue: true, WaitSeconds: 2}, nil
}

func (d *Driver) sectionSelect(ctx context.Context) (Output, error) {
	// A section just ended; collapse its turns before the next one opens.
	if d.State.Section >= 1 {
		if err := d.Log.SummarizeNow(ctx); err != nil {
			d.Logger.Warn().Err(err).Msg("section boundary summarization skipped")
		}
	}
	if err := d.State.AdvanceSection(); err != nil {
		return Output{}, err
	}
	if d.State.Section > len(d.currentPlan.Flow) {
		d.step = StepChapterStart
		return Output{}, nil
	}

	section := d.currentPlan.Flow[d.State.Section-1]
	d.step = StepIntentRoute
	if d.State.Section == 1 {
		// The chapter intro already set the scene.
		return Output{Text: "What do you do?"}, nil
	}
	return Output{Text: section.Intro + "\n\nWhat do you do?"}, nil
}

// HandleInput processes one player utterance at an input-blocking step.
func (d *Driver) HandleInput(ctx context.Context, input string) (Output, error) {
	switch d.step {
	case StepIntentRoute:
		return d.intentRoute(ctx, input)
	case StepCheckConfirm:
		return d.checkConfirm(ctx, input)
	case StepCombatConfirm:
		return d.combatConfirm(ctx, input)
	default:
		return Output{Text: "One thing at a time; the dice are still in the air."}, nil
	}
}

func (d *Driver) intentRoute(ctx context.Context, input string) (Output, error) {
	category := d.Intent.Classify(ctx, input, d.Log.Messages())
	d.Logger.Debug().Str("category", string(category)).Msg("input classified")

	switch category {
	case intent.CategoryInvalid:
		// Re-prompt without consuming a turn.
		return Output{Text: "I couldn't make anything of that. Tell me what your character does."}, nil
	case intent.CategorySystem:
		return Output{Text: helpText}, nil
	case intent.CategoryAction, intent.CategoryTalk:
		return d.progressTurn(ctx, input)
	default:
		return d.sideChannel(ctx, input)
	}
}

// sideChannel answers without advancing the story.
func (d *Driver) sideChannel(ctx context.Context, input string) (Output, error) {
	if err := d.Log.Append(ctx, convlog.RoleUser, input); err != nil {
		return Output{}, err
	}
	tc, err := d.turnContext(ctx, "action")
	if err != nil {
		return Output{}, err
	}
	reply, err := d.Narrator.Reply(ctx, input, tc)
	if err != nil {
		d.Logger.Error().Err(err).Msg("side-channel reply failed")
		return Output{Text: apology}, nil
	}
	if err := d.Log.Append(ctx, convlog.RoleAssistant, reply); err != nil {
		return Output{}, err
	}
	return Output{Text: reply}, nil
}

// progressTurn runs the full pipeline: append, propose, render, extract,
// append, execute, then follow the cue.
func (d *Driver) progressTurn(ctx context.Context, input string) (Output, error) {
	if err := d.Log.Append(ctx, convlog.RoleUser, input); err != nil {
		return Output{}, err
	}

	tc, err := d.turnContext(ctx, "action")
	if err != nil {
		return Output{}, err
	}

	progression, err := d.Director.Propose(ctx, input, tc)
	if err != nil {
		if raw := ai.RawOutput(err); raw != "" {
			// Degraded turn: show the raw output, skip commands and cues.
			d.Logger.Warn().Err(err).Msg("progression rejected, continuing degraded")
			if err := d.Log.Append(ctx, convlog.RoleAssistant, raw); err != nil {
				return Output{}, err
			}
			return Output{Text: raw}, nil
		}
		d.Logger.Error().Err(err).Msg("progression failed")
		return Output{Text: apology}, nil
	}

	narration, err := d.Narrator.Render(ctx, progression, input, tc)
	if err != nil {
		d.Logger.Error().Err(err).Msg("narration failed")
		return Output{Text: apology}, nil
	}

	extracted := command.Extract(narration)
	if err := d.Log.Append(ctx, convlog.RoleAssistant, extracted.Text); err != nil {
		return Output{}, err
	}

	batch := append(append([]command.Command{}, progression.Cmd...), extracted.Commands...)
	d.Executor.Execute(ctx, batch, d.State.Chapter)

	cue := progression.Cue
	for _, tag := range extracted.Tags {
		switch tag {
		case command.TagActionCheck:
			cue = director.CueAction
		case command.TagCombatStart:
			cue = director.CueCombat
		case command.TagEndSection:
			cue = director.CueEnd
		}
	}

	switch cue {
	case director.CueAction:
		d.pendingInput = input
		d.step = StepCheckInit
		return Output{Text: extracted.Text, AutoContinue: true, WaitSeconds: 1}, nil
	case director.CueCombat:
		d.pendingInput = input
		d.step = StepCombatInit
		return Output{Text: extracted.Text, AutoContinue: true, WaitSeconds: 1}, nil
	case director.CueEnd:
		d.step = StepSectionSelect
		return Output{Text: extracted.Text, AutoContinue: true, WaitSeconds: 2}, nil
	default:
		d.step = StepIntentRoute
		return Output{Text: extracted.Text}, nil
	}
}

func (d *Driver) checkInit(ctx context.Context) (Output, error) {
	tc, err := d.turnContext(ctx, "action")
	if err != nil {
		return Output{}, err
	}
	proposed, err := d.Checker.Propose(ctx, d.pendingInput, tc)
	if err != nil {
		d.Logger.Error().Err(err).Msg("judgment proposal failed")
		d.step = StepIntentRoute
		return Output{Text: apology}, nil
	}
	d.pendingCheck = &proposed
	d.step = StepCheckConfirm
	return Output{Text: formatCheckProposal(proposed)}, nil
}

func (d *Driver) checkConfirm(ctx context.Context, input string) (Output, error) {
	switch d.confirmDecision(ctx, input) {
	case "yes":
		d.step = StepDiceRequest
		return Output{Text: "Roll two dice.", RequestDiceRoll: true}, nil
	case "suggest":
		tc, err := d.turnContext(ctx, "action")
		if err != nil {
			return Output{}, err
		}
		revised, err := d.Checker.Revise(ctx, *d.pendingCheck, input, tc)
		if err != nil {
			d.Logger.Error().Err(err).Msg("judgment revision failed")
			return Output{Text: apology}, nil
		}
		d.pendingCheck = &revised
		return Output{Text: formatCheckProposal(revised)}, nil
	default:
		return Output{Text: "Accept the judgment, or tell me what should be different about it."}, nil
	}
}

func (d *Driver) combatInit(ctx context.Context) (Output, error) {
	character, err := d.Character(ctx)
	if err != nil {
		return Output{}, err
	}
	tc, err := d.turnContext(ctx, "action")
	if err != nil {
		return Output{}, err
	}
	evaluation, err := d.Evaluator.Evaluate(ctx, d.pendingInput, character, tc)
	if err != nil {
		d.Logger.Error().Err(err).Msg("combat evaluation failed")
		d.step = StepIntentRoute
		return Output{Text: apology}, nil
	}
	d.pendingEval = &evaluation
	d.step = StepCombatConfirm
	return Output{Text: formatCombatEvaluation(evaluation)}, nil
}

func (d *Driver) combatConfirm(ctx context.Context, input string) (Output, error) {
	switch d.confirmDecision(ctx, input) {
	case "yes":
		d.step = StepDiceRequest
		return Output{Text: "Roll two dice.", RequestDiceRoll: true}, nil
	case "suggest":
		character, err := d.Character(ctx)
		if err != nil {
			return Output{}, err
		}
		tc, err := d.turnContext(ctx, "action")
		if err != nil {
			return Output{}, err
		}
		revised, err := d.Evaluator.Revise(ctx, *d.pendingEval, input, character, tc)
		if err != nil {
			d.Logger.Error().Err(err).Msg("combat revision failed")
			return Output{Text: apology}, nil
		}
		d.pendingEval = &revised
		return Output{Text: formatCombatEvaluation(revised)}, nil
	default:
		return Output{Text: "Accept the evaluation, or adjust your strategy."}, nil
	}
}

// HandleDice resumes a suspended judgment with the rolled dice.
func (d *Driver) HandleDice(ctx context.Context, die1, die2 int) (Output, error) {
	if d.step != StepDiceRequest {
		return Output{Text: "No roll is pending."}, nil
	}

	switch {
	case d.pendingCheck != nil:
		d.step = StepCheckResult
		character, err := d.Character(ctx)
		if err != nil {
			return Output{}, err
		}
		result, err := check.Resolve(*d.pendingCheck, character, die1, die2)
		if err != nil {
			d.step = StepDiceRequest
			return Output{Text: "Those dice don't look right; roll again.", RequestDiceRoll: true}, nil
		}
		text := formatCheckResult(*d.pendingCheck, result)
		d.pendingInput = text
		d.step = StepCheckFinalize
		return Output{Text: text, AutoContinue: true, WaitSeconds: 1}, nil
	case d.pendingEval != nil:
		d.step = StepCombatResult
		result, err := combat.Resolve(*d.pendingEval, die1, die2)
		if err != nil {
			d.step = StepDiceRequest
			return Output{Text: "Those dice don't look right; roll again.", RequestDiceRoll: true}, nil
		}
		text := formatCombatResult(*d.pendingEval, result)
		d.pendingInput = text
		d.step = StepCombatFinalize
		return Output{Text: text, AutoContinue: true, WaitSeconds: 1}, nil
	default:
		d.step = StepIntentRoute
		return Output{Text: "No roll is pending."}, nil
	}
}

// judgmentFinalize narrates the consequences of a resolved judgment through
// the normal progression pipeline.
func (d *Driver) judgmentFinalize(ctx context.Context, phase string) (Output, error) {
	resultText := d.pendingInput
	d.pendingCheck = nil
	d.pendingEval = nil

	if err := d.Log.Append(ctx, convlog.RoleUser, resultText); err != nil {
		return Output{}, err
	}
	tc, err := d.turnContext(ctx, phase)
	if err != nil {
		return Output{}, err
	}

	progression, err := d.Director.Propose(ctx, resultText, tc)
	if err != nil {
		if raw := ai.RawOutput(err); raw != "" {
			// Degraded turn: show the raw output, skip commands and cues.
			d.Logger.Warn().Err(err).Msg("post-judgment progression rejected, continuing degraded")
			if err := d.Log.Append(ctx, convlog.RoleAssistant, raw); err != nil {
				return Output{}, err
			}
			d.step = StepIntentRoute
			return Output{Text: raw}, nil
		}
		d.Logger.Error().Err(err).Msg("post-judgment progression failed")
		d.step = StepIntentRoute
		return Output{Text: apology}, nil
	}
	narration, err := d.Narrator.Render(ctx, progression, resultText, tc)
	if err != nil {
		d.Logger.Error().Err(err).Msg("post-judgment narration failed")
		d.step = StepIntentRoute
		return Output{Text: apology}, nil
	}

	extracted := command.Extract(narration)
	if err := d.Log.Append(ctx, convlog.RoleAssistant, extracted.Text); err != nil {
		return Output{}, err
	}
	batch := append(append([]command.Command{}, progression.Cmd...), extracted.Commands...)
	d.Executor.Execute(ctx, batch, d.State.Chapter)

	if progression.Cue == director.CueEnd {
		d.step = StepSectionSelect
		return Output{Text: extracted.Text, AutoContinue: true, WaitSeconds: 2}, nil
	}
	d.step = StepIntentRoute
	return Output{Text: extracted.Text}, nil
}

func (d *Driver) finalize(ctx context.Context) (Output, error) {
	summary, err := d.Log.NarrativeSummary(ctx)
	if err != nil {
		d.Logger.Warn().Err(err).Msg("closing summary failed")
	} else if d.SummaryFile != nil {
		if err := d.SummaryFile(summary); err != nil {
			d.Logger.Warn().Err(err).Msg("closing summary not persisted")
		}
	}
	if err := d.State.Clear(); err != nil {
		return Output{}, err
	}
	d.step = StepDone
	return Output{
		Text:     "The scenario comes to its end. " + d.draft.Title + " is done.",
		Finished: true,
	}, nil
}

// confirmDecision reads a confirmation reply as yes, no, suggest, or
// invalid. Failure counts as invalid, which re-prompts.
func (d *Driver) confirmDecision(ctx context.Context, input string) string {
	schema := &ai.Schema{
		Name: "confirmation",
		Document: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []any{"decision"},
			"properties": map[string]any{
				"decision": map[string]any{
					"type": "string",
					"enum": []any{"yes", "no", "suggest", "invalid"},
				},
			},
		},
	}
	res, err := d.Engine.Complete(ctx, ai.Request{
		Caller:    "scenario.confirm",
		Tier:      ai.TierLow,
		MaxOutput: 300,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: "The player was asked to accept a proposed judgment. Classify their reply: yes (accept), no (refuse outright), suggest (they propose a change or objection), invalid (unreadable)."},
			{Role: ai.RoleUser, Content: input},
		},
		Schema: schema,
	})
	if err != nil {
		d.Logger.Warn().Err(err).Msg("confirmation classification failed")
		return "invalid"
	}
	var parsed struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal(res.Value, &parsed); err != nil {
		return "invalid"
	}
	return parsed.Decision
}

// turnContext assembles the full context bundle for one completion call.
func (d *Driver) turnContext(ctx context.Context, phase string) (director.Context, error) {
	tc, err := d.BaseContext(ctx)
	if err != nil {
		return director.Context{}, fmt.Errorf("build turn context: %w", err)
	}
	tc.ChapterPlan = d.currentPlan.Text()
	if d.State.Section >= 1 && d.State.Section <= len(d.currentPlan.Flow) {
		tc.SectionGoal = d.currentPlan.Flow[d.State.Section-1].Goal
	}
	tc.Phase = phase
	tc.History = d.Log.Messages()
	if previous, ok := d.Director.LoadPrevious(); ok {
		tc.Previous = &previous
	}
	return tc, nil
}

func formatCheckProposal(p check.Plan) string {
	return fmt.Sprintf(
		"A judgment is called for.\nAction: %s\nSkill: %s\nTarget: %d\nReason: %s\n\nAccept and roll, or tell me what should be different.",
		p.Action, p.Skill, p.Target, p.Reason)
}

func formatCombatEvaluation(e combat.Evaluation) string {
	return fmt.Sprintf(
		"Combat judgment.\nAction: %s\nStrategy: +%d (%s)\nCharacter fit: +%d (%s)\nCombat aptitude: +%d\nTotal bonus: +%d\n\nAccept and roll, or adjust your strategy.",
		e.Action, e.StrategyScore, e.Reason.Strategy, e.CharacterFitScore, e.Reason.CharacterFit, e.AptitudeBonus, e.TotalBonus)
}

func formatCheckResult(p check.Plan, r dice.Result) string {
	return fmt.Sprintf(
		"Judgment result for %s.\nDice: %d + %d = %d\nModifier: %+d\nTarget: %d\nOutcome: %s",
		p.Skill, r.Dice[0], r.Dice[1], r.Total, r.Modifier, r.Target, describeOutcome(r.Outcome))
}

func formatCombatResult(e combat.Evaluation, r dice.Result) string {
	return fmt.Sprintf(
		"Combat result.\nAction: %s\nDice: %d + %d = %d\nBonus: %+d\nOutcome: %s",
		e.Action, r.Dice[0], r.Dice[1], r.Total, r.Modifier, describeOutcome(r.Outcome))
}

func describeOutcome(o dice.Outcome) string {
	switch o {
	case dice.OutcomeCritical:
		return "critical success"
	case dice.OutcomeFumble:
		return "fumble, an unconditional failure"
	case dice.OutcomeSuccess:
		return "success"
	default:
		return "failure"
	}
}
