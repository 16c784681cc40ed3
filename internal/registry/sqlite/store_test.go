package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aldermoor/storyloom/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedWorldview(t *testing.T, store *Store) registry.Worldview {
	t.Helper()
	w := registry.Worldview{
		ID:        "w-0000000000000000000000001",
		Name:      "Hollow Reach",
		Genre:     "mystery",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveWorldview(context.Background(), w); err != nil {
		t.Fatalf("seed worldview: %v", err)
	}
	return w
}

func TestWorldviewRoundTrip(t *testing.T) {
	store := openTestStore(t)
	w := seedWorldview(t, store)

	got, err := store.GetWorldview(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != w {
		t.Fatalf("got %+v, want %+v", got, w)
	}

	w.Tone = "grim"
	if err := store.SaveWorldview(context.Background(), w); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := store.ListWorldviews(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Tone != "grim" {
		t.Fatalf("update not visible: %+v", list)
	}
}

func TestGetWorldviewNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetWorldview(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCharacterRoundTrip(t *testing.T) {
	store := openTestStore(t)
	w := seedWorldview(t, store)

	c := registry.Character{
		ID:          "c-0000000000000000000000001",
		WorldviewID: w.ID,
		Name:        "Vael",
		Level:       3,
		Items:       []registry.Item{{Name: "rope", Count: 1, Description: "worn"}},
		Checks:      map[string]int{"might": 2, "hope": -1},
		GrowthPool:  4,
		History:     []registry.HistoryEntry{{Text: "survived the flood"}},
		CreatedAt:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveCharacter(context.Background(), c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetCharacter(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Vael" || got.Checks["might"] != 2 || got.Items[0].Name != "rope" || got.History[0].Text != "survived the flood" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	list, err := store.ListCharacters(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 character, got %d", len(list))
	}
}

func TestCanonLifecycle(t *testing.T) {
	store := openTestStore(t)
	w := seedWorldview(t, store)
	ctx := context.Background()

	for i, name := range []string{"The Drowned Bell", "Warden Essa"} {
		c := registry.Canon{
			ID:          "k-" + name[:4] + string(rune('0'+i)),
			WorldviewID: w.ID,
			SessionID:   "s1",
			Name:        name,
			Type:        "npc",
			History:     []registry.CanonHistory{{Chapter: 1, Text: "introduced"}},
			CreatedAt:   time.Date(2026, 3, 3, i, 0, 0, 0, time.UTC),
		}
		if err := store.SaveCanon(ctx, c); err != nil {
			t.Fatalf("save canon: %v", err)
		}
	}

	list, err := store.ListCanon(ctx, w.ID, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "The Drowned Bell" {
		t.Fatalf("unexpected canon list: %+v", list)
	}

	if err := store.DeleteSessionCanon(ctx, w.ID, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, err = store.ListCanon(ctx, w.ID, "s1")
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("canon should be cleared, got %+v", list)
	}
}

func TestListNounsOrdersByFame(t *testing.T) {
	store := openTestStore(t)
	w := seedWorldview(t, store)
	ctx := context.Background()

	nouns := []registry.Noun{
		{ID: "n1", WorldviewID: w.ID, Name: "Obscure Shrine", Fame: 40, Tags: []string{"place"}},
		{ID: "n2", WorldviewID: w.ID, Name: "The Capital", Fame: 2},
		{ID: "n3", WorldviewID: w.ID, Name: "Old Road", Fame: 20},
	}
	for _, n := range nouns {
		n.CreatedAt = time.Now()
		if err := store.SaveNoun(ctx, n); err != nil {
			t.Fatalf("save noun: %v", err)
		}
	}

	list, err := store.ListNouns(ctx, w.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Name != "The Capital" || list[2].Name != "Obscure Shrine" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[2].Tags[0] != "place" {
		t.Fatalf("tags lost: %+v", list[2])
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	w := seedWorldview(t, store)
	ctx := context.Background()

	sess := registry.Session{
		ID:                "s-0000000000000000000000001",
		WorldviewID:       w.ID,
		Title:             "First Light",
		Status:            registry.SessionPreparation,
		PlayerCharacterID: "c1",
		CreatedAt:         time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	sess.Status = registry.SessionActive
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != registry.SessionActive || got.Title != "First Light" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	list, err := store.ListSessions(ctx, w.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
}
