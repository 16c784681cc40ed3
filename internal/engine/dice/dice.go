// Package dice implements two-die judgment rolls.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	DieMin = 1
	DieMax = 6

	TargetMin = 2
	TargetMax = 13
)

var (
	ErrInvalidDie    = errors.New("die value out of range")
	ErrInvalidTarget = errors.New("target out of range")
)

// Outcome classifies a resolved roll.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeFumble   Outcome = "fumble"
	OutcomeCritical Outcome = "critical"
)

// Succeeded reports whether the outcome counts as a success.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeCritical
}

// Result is one fully resolved judgment roll.
type Result struct {
	Dice     [2]int  `json:"dice"`
	Total    int     `json:"total"`
	Modifier int     `json:"modifier"`
	Target   int     `json:"target"`
	Outcome  Outcome `json:"outcome"`
}

// Roller produces die rolls. A fixed seed yields a reproducible sequence.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller seeds a roller. Seed 0 uses the current time.
func NewRoller(seed int64) *Roller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// RollTwo rolls two six-sided dice.
func (r *Roller) RollTwo() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(DieMax) + 1, r.rng.Intn(DieMax) + 1
}

// Resolve scores a two-die roll against a target. A raw 2 always fails and a
// raw 12 always succeeds, regardless of modifier and target.
func Resolve(die1, die2, modifier, target int) (Result, error) {
	if die1 < DieMin || die1 > DieMax || die2 < DieMin || die2 > DieMax {
		return Result{}, fmt.Errorf("dice (%d,%d): %w", die1, die2, ErrInvalidDie)
	}
	if target < TargetMin || target > TargetMax {
		return Result{}, fmt.Errorf("target %d: %w", target, ErrInvalidTarget)
	}

	total := die1 + die2
	result := Result{
		Dice:     [2]int{die1, die2},
		Total:    total,
		Modifier: modifier,
		Target:   target,
	}

	switch {
	case total == 2:
		result.Outcome = OutcomeFumble
	case total == 12:
		result.Outcome = OutcomeCritical
	case total+modifier >= target:
		result.Outcome = OutcomeSuccess
	default:
		result.Outcome = OutcomeFailure
	}
	return result, nil
}
