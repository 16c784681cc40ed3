// Package game owns the whole play loop: phase sequencing from prologue
// through worldview and session setup into the scenario and the growth flow.
// A single worker goroutine owns all state; the presentation layer talks to
// it only through Submit and the output callback.
package game

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/engine/check"
	"github.com/aldermoor/storyloom/internal/engine/combat"
	"github.com/aldermoor/storyloom/internal/engine/command"
	"github.com/aldermoor/storyloom/internal/engine/convlog"
	"github.com/aldermoor/storyloom/internal/engine/dice"
	"github.com/aldermoor/storyloom/internal/engine/director"
	"github.com/aldermoor/storyloom/internal/engine/growth"
	"github.com/aldermoor/storyloom/internal/engine/intent"
	"github.com/aldermoor/storyloom/internal/engine/narrator"
	"github.com/aldermoor/storyloom/internal/engine/plan"
	"github.com/aldermoor/storyloom/internal/engine/scenario"
	"github.com/aldermoor/storyloom/internal/registry"
	"github.com/aldermoor/storyloom/internal/session/files"
)

// Phase is where the play loop stands between sessions and inside one.
type Phase string

const (
	PhasePrologue        Phase = "prologue"
	PhaseWorldviewSelect Phase = "worldview_select"
	PhaseWorldviewCreate Phase = "worldview_create"
	PhaseSessionSelect   Phase = "session_select"
	PhaseSessionCreate   Phase = "session_create"
	PhaseSessionResume   Phase = "session_resume"
	PhaseScenario        Phase = "scenario"
	PhaseGrowth          Phase = "character_growth"
)

// Registry is the record store the game reads and mutates.
type Registry interface {
	SaveWorldview(ctx context.Context, w registry.Worldview) error
	GetWorldview(ctx context.Context, worldviewID string) (registry.Worldview, error)
	ListWorldviews(ctx context.Context) ([]registry.Worldview, error)
	SaveCharacter(ctx context.Context, c registry.Character) error
	GetCharacter(ctx context.Context, characterID string) (registry.Character, error)
	ListCharacters(ctx context.Context, worldviewID string) ([]registry.Character, error)
	SaveCanon(ctx context.Context, c registry.Canon) error
	ListCanon(ctx context.Context, worldviewID, sessionID string) ([]registry.Canon, error)
	DeleteSessionCanon(ctx context.Context, worldviewID, sessionID string) error
	SaveNoun(ctx context.Context, n registry.Noun) error
	ListNouns(ctx context.Context, worldviewID string) ([]registry.Noun, error)
	SaveSession(ctx context.Context, sess registry.Session) error
	GetSession(ctx context.Context, sessionID string) (registry.Session, error)
	ListSessions(ctx context.Context, worldviewID string) ([]registry.Session, error)
}

// StateMarker is the worlds/state.json record used for the resume prompt at
// startup. Interrupted stays true from scenario entry until a clean finish,
// so a crash leaves the evidence behind.
type StateMarker struct {
	WorldviewID string            `json:"worldview_id"`
	SessionID   string            `json:"session_id"`
	LastSession StateMarkerTarget `json:"last_session"`
}

// StateMarkerTarget points at the session the marker refers to.
type StateMarkerTarget struct {
	WorldviewID string `json:"worldview_id"`
	SessionID   string `json:"session_id"`
	Interrupted bool   `json:"interrupted"`
}

// Config wires a Game.
type Config struct {
	Registry Registry
	Files    *files.Store
	Engine   ai.Engine
	Logger   zerolog.Logger

	// Send receives every line of output, in order, from the worker
	// goroutine.
	Send func(text string)

	// Roll answers dice requests. Defaults to a time-seeded roller.
	Roll func() (int, int)

	// Sleep paces AutoContinue transitions. Defaults to time.Sleep.
	Sleep func(seconds int)

	// CompactionThreshold and CompactionBatch tune the conversation log;
	// zero keeps the defaults.
	CompactionThreshold int
	CompactionBatch     int

	Now   func() time.Time
	NewID func() (string, error)
}

// Game is the phase driver. All fields are owned by the Run goroutine.
type Game struct {
	cfg    Config
	inputs chan string

	phase Phase

	worldview registry.Worldview
	session   registry.Session
	character registry.Character
	draft     plan.Draft

	worldviewChoices []registry.Worldview
	sessionChoices   []registry.Session
	characterChoices []registry.Character

	createStep   int
	pendingTitle string
	pendingName  string
	sequelOf     *registry.Session

	driver *scenario.Driver
	growth *growth.Flow
}

// New wires a game. Send is required; everything else has defaults.
func New(cfg Config) (*Game, error) {
	if cfg.Registry == nil || cfg.Files == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("registry, files, and engine are required")
	}
	if cfg.Send == nil {
		return nil, fmt.Errorf("output callback is required")
	}
	if cfg.Roll == nil {
		roller := dice.NewRoller(0)
		cfg.Roll = roller.RollTwo
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(seconds int) { time.Sleep(time.Duration(seconds) * time.Second) }
	}
	return &Game{cfg: cfg, inputs: make(chan string, 1)}, nil
}

// Submit hands one line of player input to the worker. It blocks while the
// worker is mid-turn.
func (g *Game) Submit(input string) {
	g.inputs <- input
}

// Phase reports the current phase.
func (g *Game) Phase() Phase { return g.phase }

// Run is the worker loop. It emits the opening prompt, then serves inputs
// until the context ends.
func (g *Game) Run(ctx context.Context) error {
	if err := g.enterPrologue(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case input := <-g.inputs:
			if err := g.handle(ctx, strings.TrimSpace(input)); err != nil {
				return err
			}
		}
	}
}

func (g *Game) send(text string) {
	if text != "" {
		g.cfg.Send(text)
	}
}

func (g *Game) handle(ctx context.Context, input string) error {
	switch g.phase {
	case PhasePrologue:
		return g.prologueChoice(ctx, input)
	case PhaseWorldviewSelect:
		return g.worldviewChoice(ctx, input)
	case PhaseWorldviewCreate:
		return g.worldviewCreate(ctx, input)
	case PhaseSessionSelect:
		return g.sessionChoice(ctx, input)
	case PhaseSessionCreate:
		return g.sessionCreate(ctx, input)
	case PhaseSessionResume:
		return g.sequelChoice(ctx, input)
	case PhaseScenario:
		out, err := g.driver.HandleInput(ctx, input)
		return g.pumpScenario(ctx, out, err)
	case PhaseGrowth:
		out, err := g.growth.HandleInput(ctx, input)
		return g.pumpGrowth(ctx, out, err)
	}
	return fmt.Errorf("unhandled phase %s", g.phase)
}

// enterPrologue offers to resume an interrupted session, otherwise moves
// straight to worldview selection.
func (g *Game) enterPrologue(ctx context.Context) error {
	g.phase = PhasePrologue
	var marker StateMarker
	err := g.cfg.Files.LoadMarker(&marker)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		g.cfg.Logger.Warn().Err(err).Msg("state marker unreadable")
	}
	if err == nil && marker.LastSession.Interrupted {
		g.send("An interrupted session was found.\n1. Pick up where you left off\n2. Start fresh\n\nAnswer with a number.")
		return nil
	}
	return g.enterWorldviewSelect(ctx)
}

func (g *Game) prologueChoice(ctx context.Context, input string) error {
	var marker StateMarker
	if err := g.cfg.Files.LoadMarker(&marker); err != nil {
		return g.enterWorldviewSelect(ctx)
	}
	switch input {
	case "1":
		sess, err := g.cfg.Registry.GetSession(ctx, marker.LastSession.SessionID)
		if err != nil {
			g.cfg.Logger.Warn().Err(err).Msg("interrupted session missing")
			g.send("That session could not be loaded.")
			return g.enterWorldviewSelect(ctx)
		}
		worldview, err := g.cfg.Registry.GetWorldview(ctx, sess.WorldviewID)
		if err != nil {
			return fmt.Errorf("load worldview: %w", err)
		}
		g.worldview = worldview
		return g.resumeSession(ctx, sess)
	case "2":
		if err := g.cfg.Files.SaveMarker(StateMarker{}); err != nil {
			g.cfg.Logger.Warn().Err(err).Msg("state marker not cleared")
		}
		return g.enterWorldviewSelect(ctx)
	default:
		g.send("Answer 1 or 2.")
		return nil
	}
}

func (g *Game) enterWorldviewSelect(ctx context.Context) error {
	g.phase = PhaseWorldviewSelect
	worldviews, err := g.cfg.Registry.ListWorldviews(ctx)
	if err != nil {
		return fmt.Errorf("list worldviews: %w", err)
	}
	g.worldviewChoices = worldviews

	var b strings.Builder
	b.WriteString("Pick a world:\n")
	for i, w := range worldviews {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, w.Name, w.Description)
	}
	b.WriteString("0. Create a new world\n\nAnswer with a number.")
	g.send(b.String())
	return nil
}

func (g *Game) worldviewChoice(ctx context.Context, input string) error {
	index, err := strconv.Atoi(input)
	if err != nil || index < 0 || index > len(g.worldviewChoices) {
		g.send("Answer with one of the listed numbers.")
		return nil
	}
	if index == 0 {
		g.phase = PhaseWorldviewCreate
		g.createStep = 0
		g.send("Name the world.")
		return nil
	}
	g.worldview = g.worldviewChoices[index-1]
	return g.enterSessionSelect(ctx)
}

func (g *Game) worldviewCreate(ctx context.Context, input string) error {
	switch g.createStep {
	case 0:
		if input == "" {
			g.send("The world needs a name.")
			return nil
		}
		g.pendingName = input
		g.createStep = 1
		g.send("Describe it in a sentence or two.")
		return nil
	default:
		worldview, err := registry.CreateWorldview(registry.Worldview{
			Name:        g.pendingName,
			Description: input,
		}, g.cfg.Now, g.cfg.NewID)
		if err != nil {
			g.send("That didn't work: " + err.Error())
			return nil
		}
		if err := g.cfg.Registry.SaveWorldview(ctx, worldview); err != nil {
			return fmt.Errorf("save worldview: %w", err)
		}
		g.worldview = worldview
		return g.enterSessionSelect(ctx)
	}
}

func (g *Game) enterSessionSelect(ctx context.Context) error {
	g.phase = PhaseSessionSelect
	sessions, err := g.cfg.Registry.ListSessions(ctx, g.worldview.ID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	g.sessionChoices = sessions

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions in %s:\n", g.worldview.Name)
	for i, sess := range sessions {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, sess.Title, sess.Status)
	}
	b.WriteString("0. Start a new session\n\nAnswer with a number.")
	g.send(b.String())
	return nil
}

func (g *Game) sessionChoice(ctx context.Context, input string) error {
	index, err := strconv.Atoi(input)
	if err != nil || index < 0 || index > len(g.sessionChoices) {
		g.send("Answer with one of the listed numbers.")
		return nil
	}
	if index == 0 {
		g.phase = PhaseSessionCreate
		g.createStep = 0
		g.sequelOf = nil
		g.send("Title the new session.")
		return nil
	}
	return g.resumeSession(ctx, g.sessionChoices[index-1])
}

// resumeSession routes a picked session by its status.
func (g *Game) resumeSession(ctx context.Context, sess registry.Session) error {
	switch sess.Status {
	case registry.SessionActive:
		g.session = sess
		return g.startScenario(ctx)
	case registry.SessionPreparation:
		sess.Status = registry.SessionActive
		if err := g.cfg.Registry.SaveSession(ctx, sess); err != nil {
			return fmt.Errorf("activate session: %w", err)
		}
		g.session = sess
		return g.startScenario(ctx)
	case registry.SessionEnded:
		g.phase = PhaseSessionResume
		g.session = sess
		g.send(fmt.Sprintf("%s has ended. Start a sequel that carries its story forward?\n1. Yes\n2. Back\n\nAnswer with a number.", sess.Title))
		return nil
	default:
		return fmt.Errorf("session %s has unknown status %q", sess.ID, sess.Status)
	}
}

func (g *Game) sequelChoice(ctx context.Context, input string) error {
	switch input {
	case "1":
		sequel := g.session
		g.sequelOf = &sequel
		g.phase = PhaseSessionCreate
		g.createStep = 0
		g.send("Title the sequel.")
		return nil
	case "2":
		return g.enterSessionSelect(ctx)
	default:
		g.send("Answer 1 or 2.")
		return nil
	}
}

func (g *Game) sessionCreate(ctx context.Context, input string) error {
	switch g.createStep {
	case 0: // title
		if input == "" {
			g.send("The session needs a title.")
			return nil
		}
		g.pendingTitle = input
		if g.sequelOf != nil {
			// A sequel keeps its predecessor's character.
			return g.createSession(ctx, g.sequelOf.PlayerCharacterID)
		}
		characters, err := g.cfg.Registry.ListCharacters(ctx, g.worldview.ID)
		if err != nil {
			return fmt.Errorf("list characters: %w", err)
		}
		g.characterChoices = characters
		if len(characters) == 0 {
			g.createStep = 2
			g.send("Name your character.")
			return nil
		}
		var b strings.Builder
		b.WriteString("Pick a character:\n")
		for i, c := range characters {
			fmt.Fprintf(&b, "%d. %s, level %d\n", i+1, c.Name, c.Level)
		}
		b.WriteString("0. Create a new character\n\nAnswer with a number.")
		g.createStep = 1
		g.send(b.String())
		return nil
	case 1: // character pick
		index, err := strconv.Atoi(input)
		if err != nil || index < 0 || index > len(g.characterChoices) {
			g.send("Answer with one of the listed numbers.")
			return nil
		}
		if index == 0 {
			g.createStep = 2
			g.send("Name your character.")
			return nil
		}
		return g.createSession(ctx, g.characterChoices[index-1].ID)
	case 2: // new character name
		if input == "" {
			g.send("The character needs a name.")
			return nil
		}
		g.pendingName = input
		g.createStep = 3
		g.send("Give them a line of background.")
		return nil
	default: // background
		character, err := registry.CreateCharacter(registry.Character{
			WorldviewID: g.worldview.ID,
			Name:        g.pendingName,
			Background:  input,
		}, g.cfg.Now, g.cfg.NewID)
		if err != nil {
			g.send("That didn't work: " + err.Error())
			return nil
		}
		if err := g.cfg.Registry.SaveCharacter(ctx, character); err != nil {
			return fmt.Errorf("save character: %w", err)
		}
		return g.createSession(ctx, character.ID)
	}
}

// createSession persists the new session, generates its scenario draft, and
// enters play. A sequel additionally carries the predecessor's closing
// summary across.
func (g *Game) createSession(ctx context.Context, characterID string) error {
	input := registry.Session{
		WorldviewID:       g.worldview.ID,
		Title:             g.pendingTitle,
		PlayerCharacterID: characterID,
	}
	if g.sequelOf != nil {
		input.ClonedFrom = g.sequelOf.ID
	}
	sess, err := registry.CreateSession(input, g.cfg.Now, g.cfg.NewID)
	if err != nil {
		g.send("That didn't work: " + err.Error())
		return nil
	}
	sess.Status = registry.SessionActive
	if err := g.cfg.Registry.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	g.session = sess

	seed := g.pendingTitle
	// Not every ended session wrote a closing summary.
	if g.sequelOf != nil && g.cfg.Files.Exists(g.worldview.ID, g.sequelOf.ID, "summary.txt") {
		if err := g.cfg.Files.CopySessionFile(g.worldview.ID, g.sequelOf.ID, sess.ID, "summary.txt", "previous_summary.txt"); err != nil {
			g.cfg.Logger.Warn().Err(err).Msg("previous summary not carried over")
		} else if previous, err := g.cfg.Files.LoadText(g.worldview.ID, sess.ID, "previous_summary.txt"); err == nil {
			seed = seed + "\n\nThe previous scenario ended like this:\n" + previous
		}
	}

	character, err := g.cfg.Registry.GetCharacter(ctx, characterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	g.character = character

	g.send("Drafting the scenario...")
	builder := g.contextBuilder()
	tc, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	generator := g.planGenerator()
	draft, err := generator.GenerateDraft(ctx, seed, tc)
	if err != nil {
		g.cfg.Logger.Error().Err(err).Msg("scenario draft failed")
		g.send("The scenario could not be drafted. Try again.")
		return g.enterSessionSelect(ctx)
	}
	g.draft = draft
	return g.startScenario(ctx)
}

// startScenario builds the scenario driver for the current session and
// plays its opening.
func (g *Game) startScenario(ctx context.Context) error {
	character, err := g.cfg.Registry.GetCharacter(ctx, g.session.PlayerCharacterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	g.character = character

	marker := StateMarker{
		WorldviewID: g.worldview.ID,
		SessionID:   g.session.ID,
		LastSession: StateMarkerTarget{
			WorldviewID: g.worldview.ID,
			SessionID:   g.session.ID,
			Interrupted: true,
		},
	}
	if err := g.cfg.Files.SaveMarker(marker); err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("state marker not saved")
	}

	builder := g.contextBuilder()
	log, err := convlog.Open(convlog.Config{
		WorldviewID:     g.worldview.ID,
		SessionID:       g.session.ID,
		Storage:         g.cfg.Files,
		Engine:          g.cfg.Engine,
		Logger:          g.cfg.Logger,
		Threshold:       g.cfg.CompactionThreshold,
		Batch:           g.cfg.CompactionBatch,
		ContextSnippets: builder.Snippets,
	})
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}

	state, err := scenario.LoadState(g.cfg.Files, g.worldview.ID, g.session.ID)
	if err != nil {
		return err
	}

	generator := g.planGenerator()
	g.driver = &scenario.Driver{
		State:    state,
		Log:      log,
		Engine:   g.cfg.Engine,
		Intent:   &intent.Router{Engine: g.cfg.Engine, Logger: g.cfg.Logger},
		Director: &director.Director{Engine: g.cfg.Engine, Storage: g.cfg.Files, Logger: g.cfg.Logger, WorldviewID: g.worldview.ID, SessionID: g.session.ID},
		Narrator: &narrator.Narrator{Engine: g.cfg.Engine, Logger: g.cfg.Logger},
		Executor: &command.Executor{
			Characters:  g.cfg.Registry,
			Canon:       g.cfg.Registry,
			WorldviewID: g.worldview.ID,
			SessionID:   g.session.ID,
			CharacterID: g.character.ID,
			Logger:      g.cfg.Logger,
			Now:         g.cfg.Now,
			NewID:       g.cfg.NewID,
		},
		Checker:   &check.Checker{Engine: g.cfg.Engine, Logger: g.cfg.Logger},
		Evaluator: &combat.Evaluator{Engine: g.cfg.Engine, Logger: g.cfg.Logger},
		Plans:     generator,
		Logger:    g.cfg.Logger,
		Character: func(ctx context.Context) (registry.Character, error) {
			return g.cfg.Registry.GetCharacter(ctx, g.session.PlayerCharacterID)
		},
		BaseContext: builder.Build,
		SummaryFile: func(text string) error {
			return g.cfg.Files.SaveText(g.worldview.ID, g.session.ID, "summary.txt", text)
		},
	}

	if g.draft.Title == "" {
		if draft, err := generator.LoadDraft(); err == nil {
			g.draft = draft
		}
	}

	g.phase = PhaseScenario
	out, err := g.driver.Start(ctx)
	return g.pumpScenario(ctx, out, err)
}

// pumpScenario plays out one scenario output chain: dice requests are
// answered locally, AutoContinue ticks are paced, and a finished scenario
// hands over to the growth flow.
func (g *Game) pumpScenario(ctx context.Context, out scenario.Output, err error) error {
	for {
		if err != nil {
			g.cfg.Logger.Error().Err(err).Msg("scenario turn failed")
			g.send("Something went wrong behind the screen. Try that again.")
			return nil
		}
		g.send(out.Text)

		switch {
		case out.Finished:
			return g.enterGrowth(ctx)
		case out.RequestDiceRoll:
			die1, die2 := g.cfg.Roll()
			g.send(fmt.Sprintf("You roll a %d and a %d.", die1, die2))
			out, err = g.driver.HandleDice(ctx, die1, die2)
		case out.AutoContinue:
			g.cfg.Sleep(out.WaitSeconds)
			out, err = g.driver.Continue(ctx)
		default:
			return nil
		}
	}
}

// enterGrowth marks the scenario complete and opens the growth flow.
func (g *Game) enterGrowth(ctx context.Context) error {
	marker := StateMarker{
		WorldviewID: g.worldview.ID,
		SessionID:   g.session.ID,
		LastSession: StateMarkerTarget{
			WorldviewID: g.worldview.ID,
			SessionID:   g.session.ID,
			Interrupted: false,
		},
	}
	if err := g.cfg.Files.SaveMarker(marker); err != nil {
		g.cfg.Logger.Warn().Err(err).Msg("state marker not saved")
	}

	g.growth = &growth.Flow{
		Engine:        g.cfg.Engine,
		Characters:    g.cfg.Registry,
		Canon:         g.cfg.Registry,
		Nouns:         g.cfg.Registry,
		Worldview:     g.worldview,
		Storage:       g.cfg.Files,
		Logger:        g.cfg.Logger,
		WorldviewID:   g.worldview.ID,
		SessionID:     g.session.ID,
		CharacterID:   g.session.PlayerCharacterID,
		GrantedPoints: len(g.draft.Chapters),
		Now:           g.cfg.Now,
		NewID:         g.cfg.NewID,
	}
	g.phase = PhaseGrowth
	out, err := g.growth.Start(ctx)
	return g.pumpGrowth(ctx, out, err)
}

func (g *Game) pumpGrowth(ctx context.Context, out growth.Output, err error) error {
	for {
		if err != nil {
			g.cfg.Logger.Error().Err(err).Msg("growth step failed")
			g.send("Something went wrong behind the screen. Try that again.")
			return nil
		}
		g.send(out.Text)

		switch {
		case out.Finished:
			return g.closeSession(ctx)
		case out.AutoContinue:
			g.cfg.Sleep(out.WaitSeconds)
			out, err = g.growth.Continue(ctx)
		default:
			return nil
		}
	}
}

// closeSession marks the session ended and returns to the prologue.
func (g *Game) closeSession(ctx context.Context) error {
	g.session.Status = registry.SessionEnded
	if err := g.cfg.Registry.SaveSession(ctx, g.session); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	g.driver = nil
	g.growth = nil
	g.draft = plan.Draft{}
	return g.enterPrologue(ctx)
}

func (g *Game) contextBuilder() *contextBuilder {
	return &contextBuilder{
		registry:    g.cfg.Registry,
		worldviewID: g.worldview.ID,
		sessionID:   g.session.ID,
		characterID: g.session.PlayerCharacterID,
		draft:       func() plan.Draft { return g.draft },
	}
}

func (g *Game) planGenerator() *plan.Generator {
	return &plan.Generator{
		Engine:      g.cfg.Engine,
		Storage:     g.cfg.Files,
		Canon:       g.cfg.Registry,
		Logger:      g.cfg.Logger,
		WorldviewID: g.worldview.ID,
		SessionID:   g.session.ID,
		Now:         g.cfg.Now,
		NewID:       g.cfg.NewID,
	}
}
