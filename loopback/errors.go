package loopback

import (
	"fmt"
	"time"

	"github.com/stringintech/rpc-autotester/autotest"
)

// Error codes reported by the loopback pair
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	CodeRequestTimeout = -32001
	CodeExecutionError = -32002
)

const (
	msgMethodNotFound = "Method not found"
	msgInternalError  = "Internal error"
	msgRequestTimeout = "Request exceeded maximum execution time"
	msgExecutionError = "Method has returned error"
)

// MethodNotFound is returned for names that are not exposed or not callable
type MethodNotFound struct {
	Method string
}

func (e *MethodNotFound) Error() string { return fmt.Sprintf("%s: %s", msgMethodNotFound, e.Method) }
func (e *MethodNotFound) Code() int     { return CodeMethodNotFound }
func (e *MethodNotFound) Message() string {
	return msgMethodNotFound
}
func (e *MethodNotFound) Data() any { return nil }

// RequestTimeout is returned when a call outlives the client request timeout
type RequestTimeout struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("%s: %s exceeded %s", msgRequestTimeout, e.Method, e.Timeout)
}
func (e *RequestTimeout) Code() int       { return CodeRequestTimeout }
func (e *RequestTimeout) Message() string { return msgRequestTimeout }
func (e *RequestTimeout) Data() any       { return nil }

// ExecutionError is returned when an exposed function fails. Value is the
// rejection payload, the error text or the panic value.
type ExecutionError struct {
	Method string
	Value  any
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", msgExecutionError, e.Method, e.Value)
}
func (e *ExecutionError) Code() int       { return CodeExecutionError }
func (e *ExecutionError) Message() string { return msgExecutionError }
func (e *ExecutionError) Data() any       { return e.Value }

// InternalError is returned when the pair itself cannot serve a request
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string   { return fmt.Sprintf("%s: %s", msgInternalError, e.Reason) }
func (e *InternalError) Code() int       { return CodeInternalError }
func (e *InternalError) Message() string { return msgInternalError }
func (e *InternalError) Data() any       { return nil }

var (
	_ autotest.RPCError = (*MethodNotFound)(nil)
	_ autotest.RPCError = (*RequestTimeout)(nil)
	_ autotest.RPCError = (*ExecutionError)(nil)
	_ autotest.RPCError = (*InternalError)(nil)
)

// Exceptions returns the error class registry for the loopback error types,
// keyed by the class names the fixture tables use
func Exceptions() *autotest.Exceptions {
	return autotest.MustExceptions(
		autotest.ClassOf[*MethodNotFound]("MethodNotFound"),
		autotest.ClassOf[*RequestTimeout]("RequestTimeout"),
		autotest.ClassOf[*ExecutionError]("ExecutionError"),
		autotest.ClassOf[*InternalError]("InternalError"),
	)
}
