package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/stringintech/rpc-autotester/autotest"
	"github.com/stringintech/rpc-autotester/fixtures"
)

// Transport exchanges protocol lines with a handler. *Handler implements it.
type Transport interface {
	SendLine(line []byte) error
	ReadLine() ([]byte, error)
}

// Session issues protocol requests over a transport and exposes the handler's
// server, clients and result store as autotest collaborators. Requests are
// serialized.
type Session struct {
	mu     sync.Mutex
	t      Transport
	nextID int
	logger *slog.Logger
}

// NewSession creates a session on t
func NewSession(t Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{t: t, logger: logger}
}

// Call sends one request and decodes its result into result, which may be nil.
// Errors reported by the handler are returned as *RemoteError.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		raw = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	req := Request{ID: strconv.Itoa(s.nextID), Method: method, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	s.logger.DebugContext(ctx, "handler request", "line", string(line))
	if err := s.t.SendLine(line); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	respLine, err := s.t.ReadLine()
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	s.logger.DebugContext(ctx, "handler response", "line", string(respLine))

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response ID mismatch: expected %s, got %s", req.ID, resp.ID)
	}
	if resp.Error != nil {
		return newRemoteError(resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// Server returns the handler's server
func (s *Session) Server() autotest.Server {
	return &remoteServer{s: s}
}

// SimpleClient returns the handler's simple client. It implements
// autotest.Pinger only when the handler reports ping support.
func (s *Session) SimpleClient(ctx context.Context) (autotest.Client, error) {
	c, ping, err := s.client(ctx, ClientSimple)
	if err != nil {
		return nil, err
	}
	if ping {
		return &pingingClient{c}, nil
	}
	return c, nil
}

// ProxifiedClient returns the handler's proxified client. It implements
// autotest.Pinger only when the handler reports ping support.
func (s *Session) ProxifiedClient(ctx context.Context) (autotest.ProxyClient, error) {
	c, ping, err := s.client(ctx, ClientProxified)
	if err != nil {
		return nil, err
	}
	p := &remoteProxy{remoteClient: c}
	if ping {
		return &pingingProxy{p}, nil
	}
	return p, nil
}

// Results returns the handler's result store
func (s *Session) Results() autotest.ResultStore {
	return &remoteStore{s: s}
}

func (s *Session) client(ctx context.Context, name string) (*remoteClient, bool, error) {
	var opts OptionsResult
	if err := s.Call(ctx, MethodClientOptions, ClientParams{Client: name}, &opts); err != nil {
		return nil, false, fmt.Errorf("failed to query %s client options: %w", name, err)
	}
	return &remoteClient{
		s:       s,
		name:    name,
		timeout: time.Duration(opts.RequestTimeout) * time.Millisecond,
	}, opts.Ping, nil
}

type remoteServer struct {
	s *Session
}

func (r *remoteServer) Expose(functions fixtures.FunctionSet) error {
	return r.s.Call(context.Background(), MethodServerExpose, ExposeParams{Functions: functions.Names()}, nil)
}

func (r *remoteServer) Run(ctx context.Context) error {
	return r.s.Call(ctx, MethodServerRun, nil, nil)
}

type remoteClient struct {
	s       *Session
	name    string
	timeout time.Duration
}

func (c *remoteClient) RequestTimeout() time.Duration {
	return c.timeout
}

func (c *remoteClient) CallMethod(ctx context.Context, method string, args []any) (any, error) {
	var result any
	err := c.s.Call(ctx, MethodClientCallMethod, CallParams{Client: c.name, Method: method, Args: args}, &result)
	return result, err
}

func (c *remoteClient) Notify(ctx context.Context, method string, args []any) (bool, error) {
	var delivered bool
	err := c.s.Call(ctx, MethodClientNotify, CallParams{Client: c.name, Method: method, Args: args}, &delivered)
	return delivered, err
}

func (c *remoteClient) RunBatch(ctx context.Context, calls []autotest.BatchCall) ([]autotest.BatchResult, error) {
	var entries []BatchEntry
	if err := c.s.Call(ctx, MethodClientRunBatch, BatchParams{Client: c.name, Calls: calls}, &entries); err != nil {
		return nil, err
	}
	results := make([]autotest.BatchResult, len(entries))
	for i, e := range entries {
		results[i] = autotest.BatchResult{Success: e.Success, Result: e.Result}
		if e.Error != nil {
			results[i].Error = newRemoteError(e.Error)
		}
	}
	return results, nil
}

func (c *remoteClient) ping(ctx context.Context) (bool, error) {
	var pong bool
	err := c.s.Call(ctx, MethodClientPing, ClientParams{Client: c.name}, &pong)
	return pong, err
}

type pingingClient struct {
	*remoteClient
}

func (c *pingingClient) Ping(ctx context.Context) (bool, error) {
	return c.ping(ctx)
}

type remoteProxy struct {
	*remoteClient
}

func (p *remoteProxy) Options() autotest.ClientOptions {
	return autotest.ClientOptions{RequestTimeout: p.timeout}
}

func (p *remoteProxy) Member(method string) autotest.MethodFunc {
	return p.member(StyleMember, method)
}

func (p *remoteProxy) CallMethodMember(method string) autotest.MethodFunc {
	return p.member(StyleCallMethod, method)
}

func (p *remoteProxy) NotifyMember(method string) autotest.NotifyFunc {
	return func(ctx context.Context, args ...any) (bool, error) {
		var delivered bool
		err := p.s.Call(ctx, MethodProxyCall, p.params(StyleNotify, method, args), &delivered)
		return delivered, err
	}
}

func (p *remoteProxy) member(style, method string) autotest.MethodFunc {
	return func(ctx context.Context, args ...any) (any, error) {
		var result any
		err := p.s.Call(ctx, MethodProxyCall, p.params(style, method, args), &result)
		return result, err
	}
}

func (p *remoteProxy) params(style, method string, args []any) ProxyParams {
	if args == nil {
		args = []any{}
	}
	return ProxyParams{Client: p.name, Style: style, Method: method, Args: args}
}

type pingingProxy struct {
	*remoteProxy
}

func (p *pingingProxy) Ping(ctx context.Context) (bool, error) {
	return p.ping(ctx)
}

type remoteStore struct {
	s *Session
}

func (r *remoteStore) LastResult(ctx context.Context, method string) (any, bool, error) {
	var last LastResult
	if err := r.s.Call(ctx, MethodStoreLastResult, StoreParams{Method: method}, &last); err != nil {
		return nil, false, fmt.Errorf("failed to read last result of %s: %w", method, err)
	}
	return last.Value, last.Found, nil
}
