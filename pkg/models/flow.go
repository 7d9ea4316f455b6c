package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidParameters is returned when run parameters do not conform to the
// flow's parameter schema.
var ErrInvalidParameters = errors.New("parameters do not conform to the flow parameter schema")

// Flow is a schedulable unit of work. Runs are created against a flow and
// their parameters are validated against the flow's JSON parameter schema,
// when one is declared.
type Flow struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"        validate:"required,min=3"`
	Description     string         `json:"description"`
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`
	Owner           string         `json:"owner"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
}

// ValidateParameters checks run parameters against the flow's parameter
// schema. Flows without a schema accept any parameters.
func (f *Flow) ValidateParameters(parameters map[string]any) error {
	if len(f.ParameterSchema) == 0 {
		return nil
	}

	if parameters == nil {
		parameters = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(f.ParameterSchema),
		gojsonschema.NewGoLoader(parameters),
	)
	if err != nil {
		return fmt.Errorf("failed to validate parameters: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		details = append(details, resultError.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(details, "; "))
}
