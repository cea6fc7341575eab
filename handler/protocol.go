package handler

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stringintech/rpc-autotester/autotest"
)

// Protocol methods understood by a handler
const (
	MethodServerExpose     = "server.expose"
	MethodServerRun        = "server.run"
	MethodClientOptions    = "client.options"
	MethodClientCallMethod = "client.callMethod"
	MethodClientNotify     = "client.notify"
	MethodClientRunBatch   = "client.runBatch"
	MethodClientPing       = "client.ping"
	MethodProxyCall        = "proxy.call"
	MethodStoreLastResult  = "store.lastResult"
)

// Client names used in request params
const (
	ClientSimple    = "simple"
	ClientProxified = "proxified"
)

// Proxy call styles
const (
	StyleMember     = "member"
	StyleCallMethod = "callMethod"
	StyleNotify     = "notify"
)

// ClassHandler marks errors raised by the handler itself rather than by the
// RPC library under test
const ClassHandler = "Handler"

// CodeHandler is the code carried by ClassHandler errors
const CodeHandler = -32000

// Request is one line sent to the handler
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line read back from the handler
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the wire form of an error
type ErrorObject struct {
	Class   string          `json:"class"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ExposeParams are the params of server.expose
type ExposeParams struct {
	Functions []string `json:"functions"`
}

// ClientParams select a client
type ClientParams struct {
	Client string `json:"client"`
}

// CallParams are the params of client.callMethod and client.notify
type CallParams struct {
	Client string `json:"client"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// BatchParams are the params of client.runBatch
type BatchParams struct {
	Client string               `json:"client"`
	Calls  []autotest.BatchCall `json:"calls"`
}

// ProxyParams are the params of proxy.call
type ProxyParams struct {
	Client string `json:"client"`
	Style  string `json:"style"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// StoreParams are the params of store.lastResult
type StoreParams struct {
	Method string `json:"method"`
}

// OptionsResult is the result of client.options
type OptionsResult struct {
	RequestTimeout int64 `json:"requestTimeout"` // milliseconds
	Ping           bool  `json:"ping"`
}

// BatchEntry is one element of the client.runBatch result
type BatchEntry struct {
	Success bool         `json:"success"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// LastResult is the result of store.lastResult
type LastResult struct {
	Found bool `json:"found"`
	Value any  `json:"value"`
}

// RemoteError is an error reported by the handler. It satisfies
// autotest.RPCError; Class names the error class on the handler side.
type RemoteError struct {
	Class   string
	code    int
	message string
	data    any
}

var _ autotest.RPCError = (*RemoteError)(nil)

func newRemoteError(obj *ErrorObject) *RemoteError {
	e := &RemoteError{Class: obj.Class, code: obj.Code, message: obj.Message}
	if len(obj.Data) > 0 {
		if err := json.Unmarshal(obj.Data, &e.data); err != nil {
			e.data = string(obj.Data)
		}
	}
	return e
}

func (e *RemoteError) Error() string {
	if e.data != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Class, e.code, e.message, e.data)
	}
	return fmt.Sprintf("%s (%d): %s", e.Class, e.code, e.message)
}

func (e *RemoteError) Code() int       { return e.code }
func (e *RemoteError) Message() string { return e.message }
func (e *RemoteError) Data() any       { return e.data }

// Exceptions builds an error class registry that matches remote errors by
// class name. The Handler class is always included.
func Exceptions(names ...string) (*autotest.Exceptions, error) {
	classes := []autotest.ErrorClass{remoteClass(ClassHandler)}
	for _, name := range names {
		if name == ClassHandler {
			continue
		}
		classes = append(classes, remoteClass(name))
	}
	return autotest.NewExceptions(classes...)
}

func remoteClass(name string) autotest.ErrorClass {
	return autotest.ClassFunc(name, func(err error) bool {
		var remote *RemoteError
		return errors.As(err, &remote) && remote.Class == name
	})
}
