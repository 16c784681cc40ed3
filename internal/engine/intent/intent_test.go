package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
	"github.com/aldermoor/storyloom/internal/ai/aitest"
)

func TestClassify(t *testing.T) {
	engine := aitest.NewEngine(aitest.Reply{Text: `{"category":"action"}`})
	router := &Router{Engine: engine, Logger: zerolog.Nop()}

	got := router.Classify(context.Background(), "I pry open the crate", []ai.Message{
		{Role: ai.RoleAssistant, Content: "The crate sits in the corner."},
	})
	if got != CategoryAction {
		t.Fatalf("got %s", got)
	}

	requests := engine.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected 1 call, got %d", len(requests))
	}
	req := requests[0]
	if req.Schema == nil || req.Schema.Name != "intent" {
		t.Fatalf("schema missing: %+v", req.Schema)
	}
	if req.MaxOutput <= 0 {
		t.Fatalf("classification must cap its output, got %d", req.MaxOutput)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != ai.RoleUser || last.Content != "I pry open the crate" {
		t.Fatalf("utterance not last: %+v", last)
	}
}

func TestClassifyFailureDefaultsToOther(t *testing.T) {
	tests := []struct {
		name  string
		reply aitest.Reply
	}{
		{"transport error", aitest.Reply{Err: errors.New("down")}},
		{"schema violation", aitest.Reply{Text: `{"category":"flee"}`}},
		{"not json", aitest.Reply{Text: "action"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := &Router{Engine: aitest.NewEngine(tc.reply), Logger: zerolog.Nop()}
			if got := router.Classify(context.Background(), "hm", nil); got != CategoryOther {
				t.Fatalf("got %s, want other", got)
			}
		})
	}
}

func TestMutating(t *testing.T) {
	if !CategoryAction.Mutating() || !CategoryTalk.Mutating() {
		t.Fatal("action and talk must mutate")
	}
	for _, c := range []Category{CategoryInfoRequest, CategoryGMQuery, CategorySystem, CategoryInvalid, CategoryOther} {
		if c.Mutating() {
			t.Fatalf("%s must not mutate", c)
		}
	}
}
