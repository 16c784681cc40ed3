package game

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai/aitest"
	"github.com/aldermoor/storyloom/internal/registry"
	"github.com/aldermoor/storyloom/internal/session/files"
)

// memRegistry is an in-memory Registry for the phase driver tests.
type memRegistry struct {
	worldviews map[string]registry.Worldview
	characters map[string]registry.Character
	sessions   map[string]registry.Session
	canon      []registry.Canon
	nouns      []registry.Noun
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		worldviews: map[string]registry.Worldview{},
		characters: map[string]registry.Character{},
		sessions:   map[string]registry.Session{},
	}
}

func (m *memRegistry) SaveWorldview(_ context.Context, w registry.Worldview) error {
	m.worldviews[w.ID] = w
	return nil
}

func (m *memRegistry) GetWorldview(_ context.Context, id string) (registry.Worldview, error) {
	w, ok := m.worldviews[id]
	if !ok {
		return registry.Worldview{}, fmt.Errorf("worldview %s not found", id)
	}
	return w, nil
}

func (m *memRegistry) ListWorldviews(_ context.Context) ([]registry.Worldview, error) {
	var out []registry.Worldview
	for _, w := range m.worldviews {
		out = append(out, w)
	}
	return out, nil
}

func (m *memRegistry) SaveCharacter(_ context.Context, c registry.Character) error {
	m.characters[c.ID] = c
	return nil
}

func (m *memRegistry) GetCharacter(_ context.Context, id string) (registry.Character, error) {
	c, ok := m.characters[id]
	if !ok {
		return registry.Character{}, fmt.Errorf("character %s not found", id)
	}
	return c, nil
}

func (m *memRegistry) ListCharacters(_ context.Context, worldviewID string) ([]registry.Character, error) {
	var out []registry.Character
	for _, c := range m.characters {
		if c.WorldviewID == worldviewID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRegistry) SaveCanon(_ context.Context, c registry.Canon) error {
	m.canon = append(m.canon, c)
	return nil
}

func (m *memRegistry) ListCanon(_ context.Context, worldviewID, sessionID string) ([]registry.Canon, error) {
	var out []registry.Canon
	for _, c := range m.canon {
		if c.WorldviewID == worldviewID && c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRegistry) DeleteSessionCanon(_ context.Context, worldviewID, sessionID string) error {
	kept := m.canon[:0]
	for _, c := range m.canon {
		if c.WorldviewID != worldviewID || c.SessionID != sessionID {
			kept = append(kept, c)
		}
	}
	m.canon = kept
	return nil
}

func (m *memRegistry) SaveNoun(_ context.Context, n registry.Noun) error {
	m.nouns = append(m.nouns, n)
	return nil
}

func (m *memRegistry) ListNouns(_ context.Context, worldviewID string) ([]registry.Noun, error) {
	var out []registry.Noun
	for _, n := range m.nouns {
		if n.WorldviewID == worldviewID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memRegistry) SaveSession(_ context.Context, sess registry.Session) error {
	m.sessions[sess.ID] = sess
	return nil
}

func (m *memRegistry) GetSession(_ context.Context, id string) (registry.Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return registry.Session{}, fmt.Errorf("session %s not found", id)
	}
	return sess, nil
}

func (m *memRegistry) ListSessions(_ context.Context, worldviewID string) ([]registry.Session, error) {
	var out []registry.Session
	for _, sess := range m.sessions {
		if sess.WorldviewID == worldviewID {
			out = append(out, sess)
		}
	}
	return out, nil
}

type gameHarness struct {
	game     *Game
	engine   *aitest.Engine
	store    *files.Store
	registry *memRegistry
	sent     []string
}

func newGameHarness(t *testing.T) *gameHarness {
	t.Helper()
	h := &gameHarness{
		engine:   aitest.NewEngine(),
		store:    files.NewStore(t.TempDir()),
		registry: newMemRegistry(),
	}
	seq := 0
	game, err := New(Config{
		Registry: h.registry,
		Files:    h.store,
		Engine:   h.engine,
		Logger:   zerolog.Nop(),
		Send:     func(text string) { h.sent = append(h.sent, text) },
		Roll:     func() (int, int) { return 3, 4 },
		Sleep:    func(int) {},
		Now:      func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() (string, error) {
			seq++
			return fmt.Sprintf("id-%02d", seq), nil
		},
	})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	h.game = game
	return h
}

func (h *gameHarness) lastSent(t *testing.T) string {
	t.Helper()
	if len(h.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return h.sent[len(h.sent)-1]
}

func (h *gameHarness) allSent() string {
	return strings.Join(h.sent, "\n---\n")
}

func draftReply() string {
	return `{
  "title": "The Ledger",
  "goal": "Recover the stolen ledger",
  "summary": "A theft unsettles a mill town.",
  "chapters": [
    {"title": "Arrival", "overview": "Vael reaches the town."},
    {"title": "The Mill", "overview": "The trail leads below the mill."}
  ]
}`
}

func planReply() string {
	desc := strings.Repeat("The mill conceals a passage below the waterline. ", 3)
	return fmt.Sprintf(`{
  "title": "Arrival",
  "flow": [{"section": 1, "scene": "exploration", "intro": "Rain falls.", "goal": "get below", "description": %q, "has_combat": false}],
  "canon": []
}`, desc)
}

func TestFreshStartListsWorldviews(t *testing.T) {
	h := newGameHarness(t)
	if err := h.game.enterPrologue(context.Background()); err != nil {
		t.Fatalf("prologue: %v", err)
	}
	if h.game.Phase() != PhaseWorldviewSelect {
		t.Fatalf("phase %s", h.game.Phase())
	}
	if !strings.Contains(h.lastSent(t), "Create a new world") {
		t.Fatalf("menu missing: %q", h.lastSent(t))
	}
}

func TestFullSetupIntoScenario(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	if err := h.game.enterPrologue(ctx); err != nil {
		t.Fatalf("prologue: %v", err)
	}

	steps := []struct {
		input string
		want  string
	}{
		{"0", "Name the world"},
		{"Saltmere", "Describe it"},
		{"A drowned coastline of mill towns.", "Start a new session"},
		{"0", "Title the new session"},
		{"The Ledger", "Name your character"},
		{"Vael", "background"},
	}
	for _, step := range steps {
		if err := h.game.handle(ctx, step.input); err != nil {
			t.Fatalf("input %q: %v", step.input, err)
		}
		if !strings.Contains(h.lastSent(t), step.want) {
			t.Fatalf("after %q want %q in %q", step.input, step.want, h.lastSent(t))
		}
	}

	// Background entry triggers draft generation, chapter planning, and the
	// chapter intro in one chain.
	h.engine.Push(
		aitest.Reply{Text: draftReply()},
		aitest.Reply{Text: planReply()},
		aitest.Reply{Text: "The rain has not let up for days."},
	)
	if err := h.game.handle(ctx, "A courier with debts."); err != nil {
		t.Fatalf("background: %v", err)
	}

	if h.game.Phase() != PhaseScenario {
		t.Fatalf("phase %s", h.game.Phase())
	}
	output := h.allSent()
	if !strings.Contains(output, "rain has not let up") || !strings.Contains(output, "What do you do?") {
		t.Fatalf("scenario opening missing:\n%s", output)
	}

	// Session persisted as active with the new character attached.
	var active registry.Session
	for _, sess := range h.registry.sessions {
		active = sess
	}
	if active.Status != registry.SessionActive || active.Title != "The Ledger" {
		t.Fatalf("session %+v", active)
	}
	character, err := h.registry.GetCharacter(ctx, active.PlayerCharacterID)
	if err != nil {
		t.Fatalf("character: %v", err)
	}
	if character.Name != "Vael" || character.Checks["agility"] != 0 {
		t.Fatalf("character %+v", character)
	}

	// The interrupted marker points at the running session.
	var marker StateMarker
	if err := h.store.LoadMarker(&marker); err != nil {
		t.Fatalf("marker: %v", err)
	}
	if !marker.LastSession.Interrupted || marker.LastSession.SessionID != active.ID {
		t.Fatalf("marker %+v", marker)
	}
}

func TestInterruptedMarkerOffersResume(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()

	marker := StateMarker{LastSession: StateMarkerTarget{WorldviewID: "w1", SessionID: "s1", Interrupted: true}}
	if err := h.store.SaveMarker(marker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	if err := h.game.enterPrologue(ctx); err != nil {
		t.Fatalf("prologue: %v", err)
	}
	if h.game.Phase() != PhasePrologue || !strings.Contains(h.lastSent(t), "interrupted session") {
		t.Fatalf("resume prompt missing: %q", h.lastSent(t))
	}

	// Declining clears the marker and falls through to worldview selection.
	if err := h.game.handle(ctx, "2"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if h.game.Phase() != PhaseWorldviewSelect {
		t.Fatalf("phase %s", h.game.Phase())
	}
	var cleared StateMarker
	if err := h.store.LoadMarker(&cleared); err != nil {
		t.Fatalf("marker: %v", err)
	}
	if cleared.LastSession.Interrupted {
		t.Fatal("marker not cleared")
	}
}

func TestEndedSessionOffersSequel(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()

	worldview := registry.Worldview{ID: "w1", Name: "Saltmere", Description: "A drowned coastline."}
	h.registry.worldviews["w1"] = worldview
	character, err := registry.CreateCharacter(registry.Character{WorldviewID: "w1", Name: "Vael"}, nil, nil)
	if err != nil {
		t.Fatalf("character: %v", err)
	}
	h.registry.characters[character.ID] = character
	h.registry.sessions["s1"] = registry.Session{
		ID: "s1", WorldviewID: "w1", Title: "The Ledger",
		Status: registry.SessionEnded, PlayerCharacterID: character.ID,
	}
	if err := h.store.SaveText("w1", "s1", "summary.txt", "Vael saved the mill town."); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	if err := h.game.enterPrologue(ctx); err != nil {
		t.Fatalf("prologue: %v", err)
	}
	if err := h.game.handle(ctx, "1"); err != nil { // pick Saltmere
		t.Fatalf("pick worldview: %v", err)
	}
	if err := h.game.handle(ctx, "1"); err != nil { // pick the ended session
		t.Fatalf("pick session: %v", err)
	}
	if h.game.Phase() != PhaseSessionResume || !strings.Contains(h.lastSent(t), "sequel") {
		t.Fatalf("sequel prompt missing: %q", h.lastSent(t))
	}

	if err := h.game.handle(ctx, "1"); err != nil {
		t.Fatalf("accept sequel: %v", err)
	}
	h.engine.Push(
		aitest.Reply{Text: draftReply()},
		aitest.Reply{Text: planReply()},
		aitest.Reply{Text: "The town remembers Vael."},
	)
	if err := h.game.handle(ctx, "The Ledger II"); err != nil {
		t.Fatalf("title: %v", err)
	}

	var sequel registry.Session
	for _, sess := range h.registry.sessions {
		if sess.ID != "s1" {
			sequel = sess
		}
	}
	if sequel.ClonedFrom != "s1" || sequel.PlayerCharacterID != character.ID {
		t.Fatalf("sequel %+v", sequel)
	}

	carried, err := h.store.LoadText("w1", sequel.ID, "previous_summary.txt")
	if err != nil {
		t.Fatalf("previous summary: %v", err)
	}
	if carried != "Vael saved the mill town." {
		t.Fatalf("carried %q", carried)
	}

	// The draft seed threads the predecessor's ending through.
	requests := h.engine.Requests()
	var draftPrompt string
	for _, req := range requests {
		if req.Caller == "plan.draft" {
			draftPrompt = req.Messages[len(req.Messages)-1].Content
		}
	}
	if !strings.Contains(draftPrompt, "Vael saved the mill town.") {
		t.Fatalf("previous summary not threaded: %q", draftPrompt)
	}
}

func TestSequelWithoutSummaryStartsClean(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()

	worldview := registry.Worldview{ID: "w1", Name: "Saltmere", Description: "A drowned coastline."}
	h.registry.worldviews["w1"] = worldview
	character, err := registry.CreateCharacter(registry.Character{WorldviewID: "w1", Name: "Vael"}, nil, nil)
	if err != nil {
		t.Fatalf("character: %v", err)
	}
	h.registry.characters[character.ID] = character
	h.registry.sessions["s1"] = registry.Session{
		ID: "s1", WorldviewID: "w1", Title: "The Ledger",
		Status: registry.SessionEnded, PlayerCharacterID: character.ID,
	}

	if err := h.game.enterPrologue(ctx); err != nil {
		t.Fatalf("prologue: %v", err)
	}
	if err := h.game.handle(ctx, "1"); err != nil {
		t.Fatalf("pick worldview: %v", err)
	}
	if err := h.game.handle(ctx, "1"); err != nil {
		t.Fatalf("pick session: %v", err)
	}
	if err := h.game.handle(ctx, "1"); err != nil {
		t.Fatalf("accept sequel: %v", err)
	}
	h.engine.Push(
		aitest.Reply{Text: draftReply()},
		aitest.Reply{Text: planReply()},
		aitest.Reply{Text: "The town remembers Vael."},
	)
	if err := h.game.handle(ctx, "The Ledger II"); err != nil {
		t.Fatalf("title: %v", err)
	}

	var sequel registry.Session
	for _, sess := range h.registry.sessions {
		if sess.ID != "s1" {
			sequel = sess
		}
	}
	if sequel.ClonedFrom != "s1" {
		t.Fatalf("sequel %+v", sequel)
	}
	if _, err := h.store.LoadText("w1", sequel.ID, "previous_summary.txt"); err == nil {
		t.Fatal("no summary existed, nothing should be carried over")
	}
	for _, req := range h.engine.Requests() {
		if req.Caller == "plan.draft" && strings.Contains(req.Messages[len(req.Messages)-1].Content, "previous scenario ended") {
			t.Fatalf("draft seed references a summary that was never written")
		}
	}
}

func TestMenuRejectsGarbage(t *testing.T) {
	h := newGameHarness(t)
	ctx := context.Background()
	if err := h.game.enterPrologue(ctx); err != nil {
		t.Fatalf("prologue: %v", err)
	}
	if err := h.game.handle(ctx, "seventeen"); err != nil {
		t.Fatalf("garbage: %v", err)
	}
	if h.game.Phase() != PhaseWorldviewSelect || !strings.Contains(h.lastSent(t), "listed numbers") {
		t.Fatalf("re-prompt missing: %q", h.lastSent(t))
	}
}

func TestRunServesSubmittedInput(t *testing.T) {
	sends := make(chan string, 16)
	game, err := New(Config{
		Registry: newMemRegistry(),
		Files:    files.NewStore(t.TempDir()),
		Engine:   aitest.NewEngine(),
		Logger:   zerolog.Nop(),
		Send:     func(text string) { sends <- text },
		Sleep:    func(int) {},
	})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- game.Run(ctx) }()

	waitFor := func(want string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case text := <-sends:
				if strings.Contains(text, want) {
					return
				}
			case <-deadline:
				t.Fatalf("worker never sent %q", want)
			}
		}
	}

	waitFor("Pick a world")
	game.Submit("0")
	waitFor("Name the world")

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
}
