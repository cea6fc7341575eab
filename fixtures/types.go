package fixtures

import (
	"encoding/json"
)

// PositiveCase is a call expected to succeed with an exact result
type PositiveCase struct {
	Method         string `json:"callMethod"`
	Args           []any  `json:"args"`
	ExpectedResult any    `json:"expectedResult"`
}

// NegativeCase is a call expected to fail with an exact error shape
type NegativeCase struct {
	Method            string        `json:"callMethod"`
	Args              []any         `json:"args"`
	ExpectedError     ExpectedError `json:"expectedError"`
	ExpectedClassName string        `json:"expectedClassName"`
}

// ExpectedError describes the error a negative case must produce
type ExpectedError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Data is kept raw so an omitted payload can be told apart from an explicit null.
	// Only a present payload is compared.
	Data json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether the table entry specifies an error payload
func (e ExpectedError) HasData() bool {
	return len(e.Data) > 0
}

// DecodedData returns the expected payload in the JSON data model
func (e ExpectedError) DecodedData() (any, error) {
	if !e.HasData() {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Tables bundles both fixture tables
type Tables struct {
	Name     string
	Positive []PositiveCase
	Negative []NegativeCase
}
