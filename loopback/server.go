// Package loopback is an in-process RPC client/server pair. Calls never leave
// the process, but values cross a JSON boundary in both directions, so the pair
// behaves like a real transport from the caller's point of view.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/stringintech/rpc-autotester/fixtures"
)

// ErrServerRunning is returned by Expose once the server has started
var ErrServerRunning = errors.New("loopback: server already running")

// Server dispatches calls to exposed functions
type Server struct {
	mu        sync.RWMutex
	functions fixtures.FunctionSet
	running   bool
	logger    *slog.Logger
}

// NewServer creates a server with nothing exposed
func NewServer() *Server {
	return &Server{
		functions: make(fixtures.FunctionSet),
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger used for dispatch diagnostics
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Expose registers functions. Names starting with an underscore are accepted
// but never callable.
func (s *Server) Expose(functions fixtures.FunctionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerRunning
	}
	for name, fn := range functions {
		if fn == nil {
			return fmt.Errorf("loopback: function %q is nil", name)
		}
		s.functions[name] = fn
	}
	return nil
}

// Run starts accepting calls
func (s *Server) Run(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

// Stop stops accepting calls. Calls already dispatched run to completion.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *Server) lookup(method string) (fixtures.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil, &InternalError{Reason: "server is not running"}
	}
	fn, ok := s.functions[method]
	if !ok || strings.HasPrefix(method, "_") {
		return nil, &MethodNotFound{Method: method}
	}
	return fn, nil
}

// invoke runs one call. Arguments and result are copied through JSON.
func (s *Server) invoke(ctx context.Context, method string, args []any) (any, error) {
	fn, err := s.lookup(method)
	if err != nil {
		return nil, err
	}

	in, err := roundTrip(args)
	if err != nil {
		return nil, &InternalError{Reason: fmt.Sprintf("failed to encode arguments: %v", err)}
	}
	params, _ := in.([]any)
	if params == nil {
		params = []any{}
	}

	result, err := s.execute(ctx, method, fn, params)
	if err != nil {
		return nil, err
	}

	out, err := roundTrip(result)
	if err != nil {
		return nil, &InternalError{Reason: fmt.Sprintf("failed to encode result: %v", err)}
	}
	return out, nil
}

// execute calls fn and turns a failure or a panic into an *ExecutionError
func (s *Server) execute(ctx context.Context, method string, fn fixtures.Function, args []any) (result any, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			s.logger.Debug("exposed function panicked", "method", method, "panic", rv)
			result, err = nil, &ExecutionError{Method: method, Value: panicValue(rv)}
		}
	}()

	result, err = fn(ctx, args)
	if err == nil {
		return result, nil
	}

	var rejection *fixtures.Rejection
	if errors.As(err, &rejection) {
		data, encErr := roundTrip(rejection.Data)
		if encErr != nil {
			data = fmt.Sprint(rejection.Data)
		}
		return nil, &ExecutionError{Method: method, Value: data}
	}
	return nil, &ExecutionError{Method: method, Value: err.Error()}
}

func panicValue(rv any) any {
	switch v := rv.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		if data, err := roundTrip(v); err == nil {
			return data
		}
		return fmt.Sprint(v)
	}
}

func roundTrip(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
