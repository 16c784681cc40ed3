package scenario

// Step is the closed set of driver states within the scenario phase.
// Dispatch over it is exhaustive; there is no default fallback.
type Step int

const (
	StepSessionStart Step = iota
	StepLogRestore
	StepChapterStart
	StepSectionSelect
	StepIntentRoute
	StepCheckInit
	StepCheckConfirm
	StepCombatInit
	StepCombatConfirm
	StepDiceRequest
	StepCheckResult
	StepCheckFinalize
	StepCombatResult
	StepCombatFinalize
	StepFinalize
	StepDone
)

var stepNames = map[Step]string{
	StepSessionStart:   "session_start",
	StepLogRestore:     "log_restore",
	StepChapterStart:   "chapter_start",
	StepSectionSelect:  "section_select",
	StepIntentRoute:    "intent_route",
	StepCheckInit:      "check_init",
	StepCheckConfirm:   "check_confirm",
	StepCombatInit:     "combat_init",
	StepCombatConfirm:  "combat_confirm",
	StepDiceRequest:    "dice_request",
	StepCheckResult:    "check_result",
	StepCheckFinalize:  "check_finalize",
	StepCombatResult:   "combat_result",
	StepCombatFinalize: "combat_finalize",
	StepFinalize:       "finalize",
	StepDone:           "done",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// WaitsForInput reports whether the step blocks on a player utterance.
func (s Step) WaitsForInput() bool {
	switch s {
	case StepIntentRoute, StepCheckConfirm, StepCombatConfirm:
		return true
	}
	return false
}

// WaitsForDice reports whether the step blocks on a die roll.
func (s Step) WaitsForDice() bool {
	return s == StepDiceRequest
}
