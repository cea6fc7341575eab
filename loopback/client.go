package loopback

import (
	"context"
	"errors"
	"time"

	"github.com/stringintech/rpc-autotester/autotest"
)

// Options configures a client
type Options struct {
	// RequestTimeout bounds every call; zero means no timeout
	RequestTimeout time.Duration
}

// Client calls a Server by method name
type Client struct {
	server *Server
	opts   Options
}

// NewClient creates a client bound to server
func NewClient(server *Server, opts Options) *Client {
	return &Client{server: server, opts: opts}
}

var (
	_ autotest.Client = (*Client)(nil)
	_ autotest.Pinger = (*Client)(nil)
)

// RequestTimeout returns the configured request timeout
func (c *Client) RequestTimeout() time.Duration {
	return c.opts.RequestTimeout
}

// CallMethod calls method and waits for its result or the request timeout
func (c *Client) CallMethod(ctx context.Context, method string, args []any) (any, error) {
	return c.call(ctx, method, args)
}

// Notify delivers a call whose result is not returned. The call has completed
// when Notify returns; its outcome is only observable through side effects.
func (c *Client) Notify(ctx context.Context, method string, args []any) (bool, error) {
	_, err := c.call(ctx, method, args)
	var internal *InternalError
	if errors.As(err, &internal) {
		return false, err
	}
	return true, nil
}

// RunBatch runs calls one after another and reports each outcome in order
func (c *Client) RunBatch(ctx context.Context, calls []autotest.BatchCall) ([]autotest.BatchResult, error) {
	results := make([]autotest.BatchResult, len(calls))
	for i, call := range calls {
		result, err := c.call(ctx, call.Method, call.Args)
		if err != nil {
			var internal *InternalError
			if errors.As(err, &internal) {
				return nil, err
			}
			results[i] = autotest.BatchResult{Success: false, Error: err}
			continue
		}
		results[i] = autotest.BatchResult{Success: true, Result: result}
	}
	return results, nil
}

// Ping reports whether the server is accepting calls
func (c *Client) Ping(_ context.Context) (bool, error) {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	if !c.server.running {
		return false, &InternalError{Reason: "server is not running"}
	}
	return true, nil
}

type outcome struct {
	result any
	err    error
}

func (c *Client) call(ctx context.Context, method string, args []any) (any, error) {
	callCtx := ctx
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		result, err := c.server.invoke(callCtx, method, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && c.timedOut(ctx, callCtx) {
			return nil, &RequestTimeout{Method: method, Timeout: c.opts.RequestTimeout}
		}
		return o.result, o.err
	case <-callCtx.Done():
		if c.timedOut(ctx, callCtx) {
			return nil, &RequestTimeout{Method: method, Timeout: c.opts.RequestTimeout}
		}
		return nil, callCtx.Err()
	}
}

// timedOut reports whether callCtx expired on its own deadline rather than
// through the caller's context
func (c *Client) timedOut(parent, callCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
}

// ProxyClient is a Client whose remote methods can also be taken as members
type ProxyClient struct {
	*Client
}

// NewProxyClient creates a proxy client bound to server
func NewProxyClient(server *Server, opts Options) *ProxyClient {
	return &ProxyClient{Client: NewClient(server, opts)}
}

var (
	_ autotest.ProxyClient = (*ProxyClient)(nil)
	_ autotest.Pinger      = (*ProxyClient)(nil)
)

// Options returns the client options
func (p *ProxyClient) Options() autotest.ClientOptions {
	return autotest.ClientOptions{RequestTimeout: p.opts.RequestTimeout}
}

// Member returns method as a callable. Any name yields a member; whether it
// exists is decided by the server.
func (p *ProxyClient) Member(method string) autotest.MethodFunc {
	return func(ctx context.Context, args ...any) (any, error) {
		return p.call(ctx, method, args)
	}
}

// CallMethodMember is Member taken from the call namespace
func (p *ProxyClient) CallMethodMember(method string) autotest.MethodFunc {
	return p.Member(method)
}

// NotifyMember returns method as a callable notification
func (p *ProxyClient) NotifyMember(method string) autotest.NotifyFunc {
	return func(ctx context.Context, args ...any) (bool, error) {
		return p.Notify(ctx, method, args)
	}
}
