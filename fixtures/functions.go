package fixtures

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// LongRunningDelay is how long asyncFunctionLongRunning takes; it must exceed
	// the client request timeout the battery requires.
	LongRunningDelay = 2 * time.Second

	asyncDelay = 10 * time.Millisecond
)

// Function is a method body exposed on the server under test
type Function func(ctx context.Context, args []any) (any, error)

// FunctionSet maps exposed method names to their implementations
type FunctionSet map[string]Function

// Names returns the method names in sorted order
func (s FunctionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns the functions named in names. Unknown names are reported
// as an error.
func (s FunctionSet) Subset(names []string) (FunctionSet, error) {
	out := make(FunctionSet, len(names))
	var missing []string
	for _, name := range names {
		fn, ok := s[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[name] = fn
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown functions: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Recorder stores the last result each exposed function produced. It is the
// side channel through which notification results are observed.
type Recorder struct {
	mu      sync.Mutex
	results map[string]any
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{results: make(map[string]any)}
}

// Record stores result as the last result of method. A nil recorder discards it.
func (r *Recorder) Record(method string, result any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[method] = result
}

// LastResult returns the last recorded result of method. Reading an in-memory
// recorder never fails.
func (r *Recorder) LastResult(_ context.Context, method string) (any, bool, error) {
	if r == nil {
		return nil, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.results[method]
	return v, ok, nil
}

// Rejection is returned by a function that fails with an arbitrary payload.
// Servers report the payload as the error data.
type Rejection struct {
	Data any
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected with %v", r.Data)
}

// Reject returns a *Rejection carrying data
func Reject(data any) error {
	return &Rejection{Data: data}
}

// Functions returns the function set the battery exposes on the server.
// Functions that succeed record their result in rec before returning.
func Functions(rec *Recorder) FunctionSet {
	recorded := func(name string, fn Function) Function {
		return func(ctx context.Context, args []any) (any, error) {
			result, err := fn(ctx, args)
			if err != nil {
				return nil, err
			}
			rec.Record(name, result)
			return result, nil
		}
	}

	set := FunctionSet{
		"syncFunctionWithoutArgs": func(_ context.Context, _ []any) (any, error) {
			return "syncFunctionWithoutArgs result", nil
		},
		"syncFunctionReturnsArgs": func(_ context.Context, args []any) (any, error) {
			return map[string]any{"from": "syncFunctionReturnsArgs", "args": args}, nil
		},
		"asyncFunctionReturnsArgs": func(ctx context.Context, args []any) (any, error) {
			if err := sleep(ctx, asyncDelay); err != nil {
				return nil, err
			}
			return map[string]any{"from": "asyncFunctionReturnsArgs", "args": args}, nil
		},
		"syncFunctionReturnsString": func(_ context.Context, args []any) (any, error) {
			return joinArgs(args), nil
		},
		"syncFunctionReturnsNumber": func(_ context.Context, args []any) (any, error) {
			var sum float64
			for i, arg := range args {
				n, ok := toFloat(arg)
				if !ok {
					return nil, fmt.Errorf("argument %d is not a number: %v", i, arg)
				}
				sum += n
			}
			return sum, nil
		},
		"asyncFunctionReturnsFalse": func(ctx context.Context, _ []any) (any, error) {
			if err := sleep(ctx, asyncDelay); err != nil {
				return nil, err
			}
			return false, nil
		},
		"syncFunctionReturnsNull": func(_ context.Context, _ []any) (any, error) {
			return nil, nil
		},
		"asyncFunctionReturnsArray": func(ctx context.Context, args []any) (any, error) {
			if err := sleep(ctx, asyncDelay); err != nil {
				return nil, err
			}
			reversed := slices.Clone(args)
			slices.Reverse(reversed)
			return reversed, nil
		},
		"syncFunctionReturnsUnicode": func(_ context.Context, args []any) (any, error) {
			return joinArgs(args) + " 🌍", nil
		},
		"asyncFunctionReturnsEmptyObject": func(ctx context.Context, _ []any) (any, error) {
			if err := sleep(ctx, asyncDelay); err != nil {
				return nil, err
			}
			return map[string]any{}, nil
		},
	}
	for name, fn := range set {
		set[name] = recorded(name, fn)
	}

	// Functions below are only ever expected to fail.
	set["_privateFunction"] = func(_ context.Context, _ []any) (any, error) {
		return "private", nil
	}
	set["asyncFunctionLongRunning"] = func(ctx context.Context, _ []any) (any, error) {
		if err := sleep(ctx, LongRunningDelay); err != nil {
			return nil, err
		}
		return "asyncFunctionLongRunning result", nil
	}
	set["asyncFunctionRejectsWithPrimitiveData"] = func(_ context.Context, args []any) (any, error) {
		return nil, Reject(fmt.Sprintf(`args data "%s" from asyncFunctionRejectsWithPrimitiveData`, joinArgs(args)))
	}
	set["asyncFunctionRejectsWithComplexData"] = func(_ context.Context, args []any) (any, error) {
		return nil, Reject(map[string]any{"from": "asyncFunctionRejectsWithComplexData", "args": args})
	}
	set["asyncFunctionThrowsString"] = func(_ context.Context, _ []any) (any, error) {
		panic("asyncFunctionThrowsString")
	}
	set["asyncFunctionThrowsError"] = func(_ context.Context, _ []any) (any, error) {
		return nil, errors.New("asyncFunctionThrowsError")
	}
	return set
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, " ")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
