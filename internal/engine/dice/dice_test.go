package dice

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		die1     int
		die2     int
		modifier int
		target   int
		want     Outcome
	}{
		{"worked example success", 2, 3, 1, 6, OutcomeSuccess},
		{"worked example fumble", 1, 1, 10, 3, OutcomeFumble},
		{"critical beats impossible target", 6, 6, -5, 13, OutcomeCritical},
		{"plain failure", 2, 2, 0, 6, OutcomeFailure},
		{"modifier closes the gap", 2, 2, 2, 6, OutcomeSuccess},
		{"exact meet succeeds", 3, 3, 0, 6, OutcomeSuccess},
		{"negative modifier fails", 3, 4, -2, 6, OutcomeFailure},
		{"eleven is not critical", 5, 6, 0, 12, OutcomeFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.die1, tc.die2, tc.modifier, tc.target)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got.Outcome != tc.want {
				t.Fatalf("got %s, want %s", got.Outcome, tc.want)
			}
			if got.Total != tc.die1+tc.die2 {
				t.Fatalf("total %d", got.Total)
			}
		})
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	if _, err := Resolve(0, 3, 0, 6); !errors.Is(err, ErrInvalidDie) {
		t.Fatalf("expected ErrInvalidDie, got %v", err)
	}
	if _, err := Resolve(3, 7, 0, 6); !errors.Is(err, ErrInvalidDie) {
		t.Fatalf("expected ErrInvalidDie, got %v", err)
	}
	if _, err := Resolve(3, 3, 0, 1); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if _, err := Resolve(3, 3, 0, 14); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestOutcomeSucceeded(t *testing.T) {
	if !OutcomeSuccess.Succeeded() || !OutcomeCritical.Succeeded() {
		t.Fatal("success and critical must count as success")
	}
	if OutcomeFailure.Succeeded() || OutcomeFumble.Succeeded() {
		t.Fatal("failure and fumble must not count as success")
	}
}

func TestRollerDeterministicWithSeed(t *testing.T) {
	a := NewRoller(42)
	b := NewRoller(42)
	for i := 0; i < 20; i++ {
		a1, a2 := a.RollTwo()
		b1, b2 := b.RollTwo()
		if a1 != b1 || a2 != b2 {
			t.Fatalf("sequences diverged at %d: (%d,%d) vs (%d,%d)", i, a1, a2, b1, b2)
		}
		if a1 < DieMin || a1 > DieMax || a2 < DieMin || a2 > DieMax {
			t.Fatalf("die out of range: %d %d", a1, a2)
		}
	}
}
