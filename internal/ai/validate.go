package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ViolationError attaches the raw model output to a schema violation so
// callers can surface it in degraded mode.
type ViolationError struct {
	Schema string
	Raw    string
	Detail string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Schema, e.Detail, ErrSchemaViolation)
}

func (e *ViolationError) Unwrap() error { return ErrSchemaViolation }

// RawOutput returns the unvalidated text attached to a schema-violation
// error, or "" when err carries none.
func RawOutput(err error) string {
	var violation *ViolationError
	if errors.As(err, &violation) {
		return violation.Raw
	}
	return ""
}

// ValidateAgainst checks raw JSON output against a schema document and
// returns a ViolationError when validation fails.
func ValidateAgainst(schema *Schema, raw []byte) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema.Document),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate %s: %w", schema.Name, err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		details = append(details, issue.String())
	}
	return &ViolationError{Schema: schema.Name, Raw: string(raw), Detail: strings.Join(details, "; ")}
}
