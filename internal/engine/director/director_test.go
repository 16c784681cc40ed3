package director

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/ai/aitest"
	"github.com/aldermoor/storyloom/internal/session/files"
)

const validProgression = `{
  "act": "Vael pries the crate open and finds a coil of rope",
  "flow": {
    "loc": "warehouse loft",
    "obj": "find the missing ledger",
    "nps": ["Warden Essa"],
    "env": {"t": "dusk", "w": "rain", "s": "late autumn"},
    "pts": ["crate splinters", "rope inside"]
  },
  "cmd": [{"op": "add_item", "name": "rope", "count": 1, "type": "", "note": "hemp coil"}],
  "cue": "none"
}`

func newTestDirector(t *testing.T, engine ai.Engine) (*Director, *files.Store) {
	t.Helper()
	store := files.NewStore(t.TempDir())
	return &Director{
		Engine:      engine,
		Storage:     store,
		Logger:      zerolog.Nop(),
		WorldviewID: "w1",
		SessionID:   "s1",
	}, store
}

func TestProposePersistsSeed(t *testing.T) {
	engine := aitest.NewEngine(aitest.Reply{Text: validProgression})
	d, _ := newTestDirector(t, engine)

	got, err := d.Propose(context.Background(), "I open the crate", Context{Scenario: "The Ledger"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if got.Cue != CueNone || got.Flow.Location != "warehouse loft" || len(got.Cmd) != 1 {
		t.Fatalf("unexpected progression: %+v", got)
	}
	if got.Flow.Env.Season != "late autumn" {
		t.Fatalf("env not decoded: %+v", got.Flow.Env)
	}

	seed, ok := d.LoadPrevious()
	if !ok {
		t.Fatal("seed not persisted")
	}
	if seed.Act != got.Act {
		t.Fatalf("seed mismatch: %+v", seed)
	}
}

func TestProposeSchemaViolationPersistsNothing(t *testing.T) {
	engine := aitest.NewEngine(aitest.Reply{Text: `{"act": "x"}`})
	d, _ := newTestDirector(t, engine)

	_, err := d.Propose(context.Background(), "hm", Context{})
	if !errors.Is(err, ai.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	if _, ok := d.LoadPrevious(); ok {
		t.Fatal("rejected progression must not be persisted")
	}
}

func TestProposeRejectsOverLongFields(t *testing.T) {
	long := strings.Repeat("x", 101)
	bad := strings.Replace(validProgression, "Vael pries the crate open and finds a coil of rope", long, 1)
	engine := aitest.NewEngine(aitest.Reply{Text: bad})
	d, _ := newTestDirector(t, engine)

	if _, err := d.Propose(context.Background(), "hm", Context{}); !errors.Is(err, ai.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestProposeRejectsUnknownCue(t *testing.T) {
	bad := strings.Replace(validProgression, `"cue": "none"`, `"cue": "rest"`, 1)
	engine := aitest.NewEngine(aitest.Reply{Text: bad})
	d, _ := newTestDirector(t, engine)

	if _, err := d.Propose(context.Background(), "hm", Context{}); !errors.Is(err, ai.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestProposeThreadsContextAndHistory(t *testing.T) {
	engine := aitest.NewEngine(aitest.Reply{Text: validProgression})
	d, _ := newTestDirector(t, engine)

	previous := &Progression{Act: "Vael slipped past the guard"}
	_, err := d.Propose(context.Background(), "I climb the stairs", Context{
		Scenario: "The Ledger",
		History:  []ai.Message{{Role: ai.RoleAssistant, Content: "The loft is dark."}},
		Previous: previous,
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	req := engine.Requests()[0]
	var contextMsg string
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleSystem {
			contextMsg += msg.Content + "\n"
		}
	}
	if !strings.Contains(contextMsg, "The Ledger") {
		t.Fatalf("scenario missing from prompt: %q", contextMsg)
	}
	if !strings.Contains(contextMsg, "slipped past the guard") {
		t.Fatalf("previous progression not threaded: %q", contextMsg)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Content != "I climb the stairs" {
		t.Fatalf("player input not last: %+v", last)
	}
}

func TestContextPromptSkipsEmptySections(t *testing.T) {
	prompt := Context{Scenario: "The Ledger"}.Prompt()
	if strings.Contains(prompt, "Worldview") || !strings.Contains(prompt, "## Scenario") {
		t.Fatalf("unexpected prompt: %q", prompt)
	}
}

func TestLoadPreviousMissing(t *testing.T) {
	d, _ := newTestDirector(t, aitest.NewEngine())
	if _, ok := d.LoadPrevious(); ok {
		t.Fatal("expected no seed")
	}
}
