// Package ai defines the completion-service contract used by the narrative
// engine.
//
// Every schema-governed call in the engine uses a closed JSON-schema document
// (additionalProperties:false, all keys required); the schema is the
// enforcement mechanism, and responses are re-validated before being accepted.
package ai

import (
	"context"
	"encoding/json"
	"errors"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tier selects a model by cost/quality band rather than by name. The mapping
// to concrete model names lives in configuration.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierVeryHigh Tier = "very_high"
)

// Schema describes a structured-output contract. Document is a full JSON
// schema; responses must conform exactly.
type Schema struct {
	Name     string
	Document map[string]any
}

// Request is a single completion call.
type Request struct {
	// Caller names the requesting component for logging.
	Caller string

	Messages []Message
	Tier     Tier

	// MaxOutput caps the call's output tokens; zero leaves it unbounded.
	// Every production caller sets a cap sized to what it expects back.
	MaxOutput int

	// Schema, when non-nil, switches the call to structured output.
	Schema *Schema
}

// Response carries the completion output. Value is populated only for
// schema-governed calls whose output validated against the schema.
type Response struct {
	Text  string
	Value json.RawMessage
}

// ErrTransport indicates the completion service could not be reached or
// rejected the call; no usable output exists.
var ErrTransport = errors.New("completion transport failure")

// ErrSchemaViolation indicates a structured call returned output that failed
// schema validation. Response.Text still carries the raw output so callers can
// degrade instead of aborting the turn.
var ErrSchemaViolation = errors.New("completion schema violation")

// Engine submits completion requests.
type Engine interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
