package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/stringintech/rpc-autotester/autotest"
	"github.com/stringintech/rpc-autotester/fixtures"
)

// Target is what a handler process hosts: an RPC library's server and clients,
// the function catalogue it may be asked to expose and the store those
// functions record into
type Target struct {
	Functions fixtures.FunctionSet
	Server    autotest.Server
	Simple    autotest.Client
	Proxified autotest.ProxyClient
	Results   autotest.ResultStore
	// X names the class of errors returned by the clients
	X *autotest.Exceptions
}

// handlerError is a failure of the handler itself
type handlerError struct {
	msg string
}

func (e *handlerError) Error() string { return e.msg }

func handlerErrorf(format string, args ...any) error {
	return &handlerError{msg: fmt.Sprintf(format, args...)}
}

// Serve reads requests from r and writes one response per request to w until
// r is exhausted. Requests are processed one at a time.
func Serve(ctx context.Context, r io.Reader, w io.Writer, target Target) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		resp := target.handle(ctx, scanner.Bytes())
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	return nil
}

func (t Target) handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		slog.Error("Failed to parse request", "error", err)
		return Response{Error: t.errorObject(handlerErrorf("failed to parse request: %v", err))}
	}

	result, err := t.dispatch(ctx, req)
	if err != nil {
		return Response{ID: req.ID, Error: t.errorObject(err)}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: t.errorObject(handlerErrorf("failed to encode result: %v", err))}
	}
	return Response{ID: req.ID, Result: data}
}

func (t Target) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodServerExpose:
		var p ExposeParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		functions, err := t.Functions.Subset(p.Functions)
		if err != nil {
			return nil, handlerErrorf("%v", err)
		}
		return true, t.Server.Expose(functions)

	case MethodServerRun:
		return true, t.Server.Run(ctx)

	case MethodClientOptions:
		var p ClientParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		c, err := t.caller(p.Client)
		if err != nil {
			return nil, err
		}
		_, ping := c.(autotest.Pinger)
		return OptionsResult{RequestTimeout: t.requestTimeout(c).Milliseconds(), Ping: ping}, nil

	case MethodClientCallMethod, MethodClientNotify:
		var p CallParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		c, err := t.caller(p.Client)
		if err != nil {
			return nil, err
		}
		if req.Method == MethodClientNotify {
			return c.Notify(ctx, p.Method, nonNilArgs(p.Args))
		}
		return c.CallMethod(ctx, p.Method, nonNilArgs(p.Args))

	case MethodClientRunBatch:
		var p BatchParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		c, err := t.caller(p.Client)
		if err != nil {
			return nil, err
		}
		results, err := c.RunBatch(ctx, p.Calls)
		if err != nil {
			return nil, err
		}
		entries := make([]BatchEntry, len(results))
		for i, r := range results {
			entries[i] = BatchEntry{Success: r.Success, Result: r.Result}
			if !r.Success && r.Error != nil {
				entries[i].Error = t.errorObject(r.Error)
			}
		}
		return entries, nil

	case MethodClientPing:
		var p ClientParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		c, err := t.caller(p.Client)
		if err != nil {
			return nil, err
		}
		pinger, ok := c.(autotest.Pinger)
		if !ok {
			return nil, handlerErrorf("client %q does not support ping", p.Client)
		}
		return pinger.Ping(ctx)

	case MethodProxyCall:
		var p ProxyParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		if p.Client != ClientProxified || t.Proxified == nil {
			return nil, handlerErrorf("client %q has no proxy members", p.Client)
		}
		switch p.Style {
		case StyleMember:
			return t.Proxified.Member(p.Method)(ctx, p.Args...)
		case StyleCallMethod:
			return t.Proxified.CallMethodMember(p.Method)(ctx, p.Args...)
		case StyleNotify:
			return t.Proxified.NotifyMember(p.Method)(ctx, p.Args...)
		default:
			return nil, handlerErrorf("unknown proxy style %q", p.Style)
		}

	case MethodStoreLastResult:
		var p StoreParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		value, found, err := t.Results.LastResult(ctx, p.Method)
		if err != nil {
			return nil, err
		}
		return LastResult{Found: found, Value: value}, nil

	default:
		return nil, handlerErrorf("unknown method %q", req.Method)
	}
}

func (t Target) caller(name string) (autotest.Caller, error) {
	switch {
	case name == ClientSimple && t.Simple != nil:
		return t.Simple, nil
	case name == ClientProxified && t.Proxified != nil:
		return t.Proxified, nil
	default:
		return nil, handlerErrorf("unknown client %q", name)
	}
}

func (t Target) requestTimeout(c autotest.Caller) time.Duration {
	switch c := c.(type) {
	case autotest.ProxyClient:
		return c.Options().RequestTimeout
	case autotest.Client:
		return c.RequestTimeout()
	default:
		return 0
	}
}

// errorObject converts err to its wire form. Errors outside X are reported
// with ClassHandler and errors without a code with CodeHandler.
func (t Target) errorObject(err error) *ErrorObject {
	obj := &ErrorObject{Class: ClassHandler, Code: CodeHandler, Message: err.Error()}

	var he *handlerError
	if errors.As(err, &he) {
		return obj
	}
	if t.X != nil {
		if name, ok := t.X.Classify(err); ok {
			obj.Class = name
		}
	}

	var rpcErr autotest.RPCError
	if errors.As(err, &rpcErr) {
		obj.Code = rpcErr.Code()
		obj.Message = rpcErr.Message()
		if data := rpcErr.Data(); data != nil {
			if raw, err := json.Marshal(data); err == nil {
				obj.Data = raw
			}
		}
	}
	return obj
}

func decodeParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return handlerErrorf("%s: missing params", req.Method)
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return handlerErrorf("%s: invalid params: %v", req.Method, err)
	}
	return nil
}

func nonNilArgs(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}
