package scenario

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/aldermoor/storyloom/internal/session/files"
)

func TestLoadStateDefaults(t *testing.T) {
	store := files.NewStore(t.TempDir())
	state, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Chapter != 0 || state.Section != 0 {
		t.Fatalf("fresh state not zeroed: %+v", state)
	}
	if state.Scene != "exploration" {
		t.Fatalf("scene %q", state.Scene)
	}
}

func TestStatePersistsAcrossLoads(t *testing.T) {
	store := files.NewStore(t.TempDir())
	state, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := state.AdvanceChapter(); err != nil {
		t.Fatalf("advance chapter: %v", err)
	}
	if err := state.AdvanceSection(); err != nil {
		t.Fatalf("advance section: %v", err)
	}
	if err := state.AdvanceSection(); err != nil {
		t.Fatalf("advance section: %v", err)
	}

	reloaded, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Chapter != 1 || reloaded.Section != 2 {
		t.Fatalf("reloaded %+v", reloaded)
	}
}

func TestAdvanceChapterResetsSection(t *testing.T) {
	store := files.NewStore(t.TempDir())
	state, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	state.Section = 3
	if err := state.AdvanceChapter(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if state.Chapter != 1 || state.Section != 0 {
		t.Fatalf("state %+v", state)
	}
}

func TestClearResetsAndPersists(t *testing.T) {
	store := files.NewStore(t.TempDir())
	state, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	state.Chapter = 3
	state.Section = 2
	state.Markers["visited"] = true
	if err := state.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	reloaded, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Chapter != 0 || reloaded.Section != 0 || len(reloaded.Markers) != 0 {
		t.Fatalf("reloaded %+v", reloaded)
	}
}

func TestLoadStateIdentityFieldsWin(t *testing.T) {
	store := files.NewStore(t.TempDir())
	if err := store.SaveSessionJSON("w1", "s1", stateFile, map[string]any{
		"worldview_id": "other",
		"session_id":   "other",
		"chapter":      2,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	state, err := LoadState(store, "w1", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.WorldviewID != "w1" || state.SessionID != "s1" {
		t.Fatalf("identity %q %q", state.WorldviewID, state.SessionID)
	}
	if state.Chapter != 2 {
		t.Fatalf("chapter %d", state.Chapter)
	}
}

func TestMissingStateIsNotAnError(t *testing.T) {
	store := files.NewStore(t.TempDir())
	var probe State
	err := store.LoadSessionJSON("w1", "s1", stateFile, &probe)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if _, err := LoadState(store, "w1", "s1"); err != nil {
		t.Fatalf("load over missing file: %v", err)
	}
}
