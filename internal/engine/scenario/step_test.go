package scenario

import "testing"

func TestStepNames(t *testing.T) {
	cases := []struct {
		step Step
		want string
	}{
		{StepSessionStart, "session_start"},
		{StepIntentRoute, "intent_route"},
		{StepDiceRequest, "dice_request"},
		{StepCombatFinalize, "combat_finalize"},
		{StepDone, "done"},
		{Step(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.step.String(); got != tc.want {
			t.Fatalf("%d: got %q, want %q", int(tc.step), got, tc.want)
		}
	}
}

func TestStepBlocking(t *testing.T) {
	wantInput := map[Step]bool{
		StepIntentRoute:   true,
		StepCheckConfirm:  true,
		StepCombatConfirm: true,
	}
	for step := StepSessionStart; step <= StepDone; step++ {
		if got := step.WaitsForInput(); got != wantInput[step] {
			t.Fatalf("%s: WaitsForInput %v", step, got)
		}
		if got := step.WaitsForDice(); got != (step == StepDiceRequest) {
			t.Fatalf("%s: WaitsForDice %v", step, got)
		}
	}
}
