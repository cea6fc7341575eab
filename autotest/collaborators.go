package autotest

import (
	"context"
	"time"

	"github.com/stringintech/rpc-autotester/fixtures"
)

// RequiredRequestTimeout is the request timeout both clients must be configured
// with. The timeout scenario in the negative table depends on it.
const RequiredRequestTimeout = 1000 * time.Millisecond

// Caller is the call surface shared by both client variants
type Caller interface {
	// CallMethod invokes method by name and returns its result
	CallMethod(ctx context.Context, method string, args []any) (any, error)
	// Notify invokes method without waiting for a result. It reports delivery only.
	Notify(ctx context.Context, method string, args []any) (bool, error)
	// RunBatch sends all calls in one request and returns one result per call, in order
	RunBatch(ctx context.Context, calls []BatchCall) ([]BatchResult, error)
}

// Client is the "simple" client: name-based calls plus a directly configured timeout
type Client interface {
	Caller
	RequestTimeout() time.Duration
}

// ClientOptions is the nested option set of a proxified client
type ClientOptions struct {
	RequestTimeout time.Duration
}

// MethodFunc is a remote method addressed as a callable member
type MethodFunc func(ctx context.Context, args ...any) (any, error)

// NotifyFunc is a remote method addressed as a callable notification member
type NotifyFunc func(ctx context.Context, args ...any) (bool, error)

// ProxyClient is the "proxified" client. Besides name-based calls it hands out
// callable members for remote methods.
type ProxyClient interface {
	Caller
	Options() ClientOptions
	// Member returns the remote method as a member of the client itself
	Member(method string) MethodFunc
	// CallMethodMember returns the remote method as a member of the call namespace
	CallMethodMember(method string) MethodFunc
	// NotifyMember returns the remote method as a member of the notify namespace
	NotifyMember(method string) NotifyFunc
}

// Pinger is the optional liveness capability of a client
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Server is the server under test
type Server interface {
	Expose(functions fixtures.FunctionSet) error
	// Run starts serving; it returns once the server accepts requests
	Run(ctx context.Context) error
}

// ResultStore exposes the last result each exposed function produced. An error
// means the store could not be read, not that nothing was recorded.
type ResultStore interface {
	LastResult(ctx context.Context, method string) (any, bool, error)
}

// BatchCall is one entry of a batch request
type BatchCall struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// BatchResult is the outcome of one batch entry
type BatchResult struct {
	Success bool  `json:"success"`
	Result  any   `json:"result,omitempty"`
	Error   error `json:"-"`
}

// RPCError is the error shape negative cases are checked against
type RPCError interface {
	error
	Code() int
	Message() string
	Data() any
}
