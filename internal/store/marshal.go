package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/diamondctl/internal/ir"
)

// marshalSelectors converts a selector list to JSON TEXT for storage.
// A nil list is stored as "[]" so NOT NULL columns always hold valid JSON.
func marshalSelectors(sels []ir.Selector) (string, error) {
	if len(sels) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(sels)
	if err != nil {
		return "", fmt.Errorf("marshal selectors: %w", err)
	}
	return string(data), nil
}

// unmarshalSelectors parses JSON TEXT back into a selector list.
// "[]" yields nil so a round-trip preserves omitted lists exactly.
func unmarshalSelectors(data string) ([]ir.Selector, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var sels []ir.Selector
	if err := json.Unmarshal([]byte(data), &sels); err != nil {
		return nil, fmt.Errorf("unmarshal selectors: %w", err)
	}
	return sels, nil
}

// marshalStepResult converts a StepResult to JSON TEXT.
func marshalStepResult(res ir.StepResult) (string, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal step result: %w", err)
	}
	return string(data), nil
}

// unmarshalStepResult parses JSON TEXT into a StepResult.
func unmarshalStepResult(data string) (ir.StepResult, error) {
	var res ir.StepResult
	if data == "" || data == "{}" {
		return res, nil
	}
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return res, fmt.Errorf("unmarshal step result: %w", err)
	}
	return res, nil
}
