package autotest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
)

// AssertionError reports an observed outcome that differs from the expected one
type AssertionError struct {
	Group   string
	Method  string
	Message string
	Diff    string
}

func (e *AssertionError) Error() string {
	prefix := e.Group
	if e.Method != "" {
		prefix = fmt.Sprintf("%s: %s", e.Group, e.Method)
	}
	if e.Diff == "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return fmt.Sprintf("%s: %s (-want +got):\n%s", prefix, e.Message, e.Diff)
}

// normalize maps v into the JSON data model so values that travelled through
// different transports compare equal. Numbers stay json.Number so integers
// beyond float64 precision keep every digit.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// deepEqualDiff compares want and got in the JSON data model and returns a
// non-empty diff when they differ
func deepEqualDiff(want, got any) (string, error) {
	nw, err := normalize(want)
	if err != nil {
		return "", fmt.Errorf("failed to normalize expected value: %w", err)
	}
	ng, err := normalize(got)
	if err != nil {
		return "", fmt.Errorf("failed to normalize observed value: %w", err)
	}
	return cmp.Diff(nw, ng), nil
}

// assertion builds AssertionErrors for one case
type assertion struct {
	group  string
	method string
}

func (a assertion) fail(format string, args ...any) error {
	return &AssertionError{Group: a.group, Method: a.method, Message: fmt.Sprintf(format, args...)}
}

func (a assertion) deepEqual(want, got any, what string) error {
	diff, err := deepEqualDiff(want, got)
	if err != nil {
		return a.fail("%s: %v", what, err)
	}
	if diff != "" {
		return &AssertionError{Group: a.group, Method: a.method, Message: what, Diff: diff}
	}
	return nil
}

func (a assertion) isTrue(got bool, what string) error {
	if !got {
		return a.fail("%s: expected true, got false", what)
	}
	return nil
}
