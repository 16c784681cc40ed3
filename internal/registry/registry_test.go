package registry

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func fixedID() (string, error) {
	return "aaaaaaaaaaaaaaaaaaaaaaaaaa", nil
}

func TestCreateWorldview(t *testing.T) {
	got, err := CreateWorldview(Worldview{Name: "  Hollow Reach  ", Genre: "mystery"}, fixedNow, fixedID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.Name != "Hollow Reach" {
		t.Fatalf("name not trimmed: %q", got.Name)
	}
	if got.ID != "aaaaaaaaaaaaaaaaaaaaaaaaaa" || !got.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("id/created not filled: %+v", got)
	}

	if _, err := CreateWorldview(Worldview{Name: "   "}, fixedNow, fixedID); err == nil {
		t.Fatal("blank name must be rejected")
	}
}

func TestCreateCharacterFillsChecks(t *testing.T) {
	got, err := CreateCharacter(Character{
		Name:        "Vael",
		WorldviewID: "w1",
		Level:       3,
		Checks:      map[string]int{"might": 2, "hope": -1},
	}, fixedNow, fixedID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(got.Checks) != len(SkillNames) {
		t.Fatalf("expected %d skills, got %d", len(SkillNames), len(got.Checks))
	}
	if got.Checks["might"] != 2 || got.Checks["hope"] != -1 || got.Checks["stealth"] != 0 {
		t.Fatalf("unexpected checks: %v", got.Checks)
	}
}

func TestCreateCharacterRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input Character
	}{
		{"no name", Character{WorldviewID: "w1"}},
		{"no worldview", Character{Name: "Vael"}},
		{"level too high", Character{Name: "Vael", WorldviewID: "w1", Level: 16}},
		{"unknown skill", Character{Name: "Vael", WorldviewID: "w1", Checks: map[string]int{"luck": 1}}},
		{"level out of range", Character{Name: "Vael", WorldviewID: "w1", Checks: map[string]int{"might": 4}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := CreateCharacter(tc.input, fixedNow, fixedID); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCreateNounClampsFame(t *testing.T) {
	low, err := CreateNoun(Noun{Name: "Ashgate", WorldviewID: "w1", Fame: -5}, fixedNow, fixedID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if low.Fame != FameMin {
		t.Fatalf("fame not clamped up: %d", low.Fame)
	}
	high, err := CreateNoun(Noun{Name: "Ashgate", WorldviewID: "w1", Fame: 90}, fixedNow, fixedID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if high.Fame != FameMax {
		t.Fatalf("fame not clamped down: %d", high.Fame)
	}
}

func TestCreateSessionDefaultsStatus(t *testing.T) {
	got, err := CreateSession(Session{Title: "First Light", WorldviewID: "w1"}, fixedNow, fixedID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.Status != SessionPreparation {
		t.Fatalf("got status %q", got.Status)
	}

	if _, err := CreateSession(Session{Title: "x", WorldviewID: "w1", Status: "paused"}, fixedNow, fixedID); err == nil {
		t.Fatal("unknown status must be rejected")
	}
}

func TestSortNounsByFame(t *testing.T) {
	nouns := []Noun{
		{Name: "b", Fame: 10},
		{Name: "a", Fame: 10},
		{Name: "c", Fame: 2},
	}
	SortNounsByFame(nouns)
	if nouns[0].Name != "c" || nouns[1].Name != "a" || nouns[2].Name != "b" {
		t.Fatalf("unexpected order: %v", nouns)
	}
}
