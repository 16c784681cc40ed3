// Package command defines state mutations emitted by narration. Two surface
// syntaxes feed one executor: the structured cmd array of a Progression and a
// legacy inline bracket syntax embedded in generated prose.
package command

// Op identifies a mutation kind.
type Op string

const (
	OpAddItem     Op = "add_item"
	OpRemoveItem  Op = "remove_item"
	OpAddHistory  Op = "add_history"
	OpCreateCanon Op = "create_canon"
)

// Command is one mutation. Every field is always present on the wire; ops
// that do not use a field carry its zero value.
type Command struct {
	Op    Op     `json:"op"`
	Name  string `json:"name"`
	Count int    `json:"count"`
	Type  string `json:"type"`
	Note  string `json:"note"`
}

// KnownOp reports whether op is a member of the closed op set.
func KnownOp(op Op) bool {
	switch op {
	case OpAddItem, OpRemoveItem, OpAddHistory, OpCreateCanon:
		return true
	}
	return false
}

// Schema is the JSON-schema fragment for one command object. All keys are
// required; unused ones are zero-filled.
func Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"op", "name", "count", "type", "note"},
		"properties": map[string]any{
			"op": map[string]any{
				"type": "string",
				"enum": []any{string(OpAddItem), string(OpRemoveItem), string(OpAddHistory), string(OpCreateCanon)},
			},
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
			"type":  map[string]any{"type": "string"},
			"note":  map[string]any{"type": "string"},
		},
	}
}
