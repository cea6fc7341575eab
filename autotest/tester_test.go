package autotest_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stringintech/rpc-autotester/autotest"
	"github.com/stringintech/rpc-autotester/fixtures"
	"github.com/stringintech/rpc-autotester/loopback"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newConfig wires a loopback pair exposing the fixture functions
func newConfig(t *testing.T) autotest.Config {
	t.Helper()
	rec := fixtures.NewRecorder()
	server := loopback.NewServer()
	t.Cleanup(server.Stop)
	opts := loopback.Options{RequestTimeout: autotest.RequiredRequestTimeout}
	return autotest.Config{
		SimpleClient:    loopback.NewClient(server, opts),
		ProxifiedClient: loopback.NewProxyClient(server, opts),
		Server:          server,
		X:               loopback.Exceptions(),
		Results:         rec,
		Functions:       fixtures.Functions(rec),
		Logger:          discardLogger(),
	}
}

// quickConfig is newConfig with one positive and one negative case
func quickConfig(t *testing.T) autotest.Config {
	cfg := newConfig(t)
	cfg.Positive = fixtures.PositiveCases()[:1]
	cfg.Negative = fixtures.NegativeCases()[:1]
	return cfg
}

func mustRun(t *testing.T, cfg autotest.Config) (*autotest.Summary, error) {
	t.Helper()
	tester, err := autotest.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tester.RunAllTests(context.Background())
}

func TestRunAllTests_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("full battery waits on three request timeouts")
	}

	var logs bytes.Buffer
	cfg := newConfig(t)
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	summary, err := mustRun(t, cfg)
	if err != nil {
		t.Fatalf("RunAllTests() error = %v", err)
	}
	if !summary.Passed() {
		t.Fatalf("Passed() = false, err = %v", summary.Err)
	}

	var names []string
	for _, g := range summary.Groups {
		names = append(names, g.Name)
		if g.Passed != g.Cases {
			t.Errorf("group %q passed %d of %d", g.Name, g.Passed, g.Cases)
		}
	}
	wantNames := []string{
		"Run simple positive tests for simpleClient:",
		"Run simple positive notification tests for simpleClient:",
		"Run positive batch tests for simpleClient:",
		"Run simple positive tests for proxifiedClient:",
		"Run simple positive notification tests for proxifiedClient:",
		"Run proxy positive tests for proxifiedClient:",
		"Run proxy positive notification tests for proxifiedClient:",
		"Run simple negative tests for simpleClient:",
		"Run simple negative tests for proxifiedClient:",
		"Run proxy negative tests for proxifiedClient:",
		"Run ping pong tests for simpleClient.",
		"Run ping pong tests for proxifiedClient.",
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("group order mismatch (-want +got):\n%s", diff)
	}

	positive, negative := len(fixtures.PositiveCases()), len(fixtures.NegativeCases())
	if got, want := summary.TotalCases(), 6*positive+1+3*negative+2; got != want {
		t.Errorf("TotalCases() = %d, want %d", got, want)
	}

	for _, line := range []string{
		"Autotests started.",
		"Positive test via proxy: notifying syncFunctionReturnsArgs",
		"Negative test: calling notExistingMethod",
		"Ping test: pinging proxifiedClient",
		"Autotests finished.",
	} {
		if !strings.Contains(logs.String(), line) {
			t.Errorf("log output is missing %q", line)
		}
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*autotest.Config)
		wantMsg string
	}{
		{"no simple client", func(c *autotest.Config) { c.SimpleClient = nil }, `"simpleClient" required`},
		{"no proxified client", func(c *autotest.Config) { c.ProxifiedClient = nil }, `"proxifiedClient" required`},
		{"no server", func(c *autotest.Config) { c.Server = nil }, `"server" required`},
		{"no registry", func(c *autotest.Config) { c.X = nil }, `"X" exceptions registry required`},
		{"no results", func(c *autotest.Config) { c.Results = nil }, `"results" store required`},
		{"no functions", func(c *autotest.Config) { c.Functions = nil }, `"functions" to expose required`},
		{
			name: "simple client timeout",
			mutate: func(c *autotest.Config) {
				c.SimpleClient = loopback.NewClient(loopback.NewServer(), loopback.Options{RequestTimeout: 500 * time.Millisecond})
			},
			wantMsg: `"simpleClient" requestTimeout must be set to 1000`,
		},
		{
			name: "proxified client timeout",
			mutate: func(c *autotest.Config) {
				c.ProxifiedClient = loopback.NewProxyClient(loopback.NewServer(), loopback.Options{})
			},
			wantMsg: `"proxifiedClient" requestTimeout must be set to 1000`,
		},
		{
			name:    "unregistered class",
			mutate:  func(c *autotest.Config) { c.X = autotest.MustExceptions() },
			wantMsg: `expects unregistered error class "MethodNotFound"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(t)
			tt.mutate(&cfg)
			_, err := autotest.New(cfg)
			if !errors.Is(err, autotest.ErrConfig) {
				t.Fatalf("New() error = %v, want ErrConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("New() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

// noPing hides the Ping method of the embedded client
type noPing struct {
	autotest.Client
}

func TestRunAllTests_PingUnsupported(t *testing.T) {
	cfg := quickConfig(t)
	cfg.SimpleClient = noPing{cfg.SimpleClient}

	summary, err := mustRun(t, cfg)
	if !errors.Is(err, autotest.ErrPingUnsupported) {
		t.Fatalf("RunAllTests() error = %v, want ErrPingUnsupported", err)
	}
	if got := len(summary.Groups); got != 11 {
		t.Errorf("ran %d groups, want 11", got)
	}
	if !strings.Contains(err.Error(), "Update the RPC client package!") {
		t.Errorf("error = %q, want the upgrade hint", err)
	}
}

// unacknowledged reports every notification as undelivered
type unacknowledged struct{ autotest.Client }

func (unacknowledged) Notify(context.Context, string, []any) (bool, error) { return false, nil }

// reversedBatch returns batch results in reverse order
type reversedBatch struct{ autotest.Client }

func (c reversedBatch) RunBatch(ctx context.Context, calls []autotest.BatchCall) ([]autotest.BatchResult, error) {
	results, err := c.Client.RunBatch(ctx, calls)
	slices.Reverse(results)
	return results, err
}

// deadPing answers every ping with false
type deadPing struct{ autotest.Client }

func (deadPing) Ping(context.Context) (bool, error) { return false, nil }

func TestRunAllTests_Failures(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*autotest.Config)
		wantGroups int
		wantMsg    string
	}{
		{
			name: "wrong result",
			mutate: func(c *autotest.Config) {
				c.Positive = []fixtures.PositiveCase{{Method: "syncFunctionReturnsNumber", Args: []any{1, 1}, ExpectedResult: 3}}
			},
			wantGroups: 1,
			wantMsg:    "check result",
		},
		{
			name: "method that succeeds",
			mutate: func(c *autotest.Config) {
				c.Negative = []fixtures.NegativeCase{{
					Method:            "syncFunctionWithoutArgs",
					Args:              []any{},
					ExpectedError:     fixtures.ExpectedError{Code: -32601, Message: "Method not found"},
					ExpectedClassName: "MethodNotFound",
				}}
			},
			wantGroups: 8,
			wantMsg:    `Method "syncFunctionWithoutArgs" should fail but was executed without any error`,
		},
		{
			name: "wrong class",
			mutate: func(c *autotest.Config) {
				c.Negative = []fixtures.NegativeCase{{
					Method:            "notExistingMethod",
					Args:              []any{},
					ExpectedError:     fixtures.ExpectedError{Code: -32601, Message: "Method not found"},
					ExpectedClassName: "ExecutionError",
				}}
			},
			wantGroups: 8,
			wantMsg:    "check error class: expected instance of ExecutionError, got MethodNotFound",
		},
		{
			name: "wrong code",
			mutate: func(c *autotest.Config) {
				c.Negative = []fixtures.NegativeCase{{
					Method:            "notExistingMethod",
					Args:              []any{},
					ExpectedError:     fixtures.ExpectedError{Code: -32600, Message: "Method not found"},
					ExpectedClassName: "MethodNotFound",
				}}
			},
			wantGroups: 8,
			wantMsg:    "check error code: expected -32600, got -32601",
		},
		{
			name: "wrong data",
			mutate: func(c *autotest.Config) {
				c.Negative = []fixtures.NegativeCase{{
					Method: "asyncFunctionThrowsError",
					Args:   []any{},
					ExpectedError: fixtures.ExpectedError{
						Code:    -32002,
						Message: "Method has returned error",
						Data:    []byte(`"something else"`),
					},
					ExpectedClassName: "ExecutionError",
				}}
			},
			wantGroups: 8,
			wantMsg:    "check custom data",
		},
		{
			name:       "notification not acknowledged",
			mutate:     func(c *autotest.Config) { c.SimpleClient = unacknowledged{c.SimpleClient} },
			wantGroups: 2,
			wantMsg:    "check notification acknowledgement: expected true, got false",
		},
		{
			name: "batch results out of order",
			mutate: func(c *autotest.Config) {
				c.Positive = fixtures.PositiveCases()[:2]
				c.SimpleClient = reversedBatch{c.SimpleClient}
			},
			wantGroups: 3,
			wantMsg:    "check batch results",
		},
		{
			name:       "ping returns false",
			mutate:     func(c *autotest.Config) { c.SimpleClient = deadPing{c.SimpleClient} },
			wantGroups: 11,
			wantMsg:    "check ping result: expected true, got false",
		},
		{
			name:       "nothing recorded",
			mutate:     func(c *autotest.Config) { c.Results = fixtures.NewRecorder() },
			wantGroups: 2,
			wantMsg:    "check stored result: nothing recorded for syncFunctionWithoutArgs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := quickConfig(t)
			tt.mutate(&cfg)

			summary, err := mustRun(t, cfg)
			var assertion *autotest.AssertionError
			if !errors.As(err, &assertion) {
				t.Fatalf("RunAllTests() error = %v, want *AssertionError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
			if summary.Passed() {
				t.Error("Passed() = true")
			}
			if got := len(summary.Groups); got != tt.wantGroups {
				t.Errorf("ran %d groups, want %d (stop at first failure)", got, tt.wantGroups)
			}
			last := summary.Groups[len(summary.Groups)-1]
			if last.Err == nil || last.Passed == last.Cases {
				t.Errorf("last group %q = %+v, want it failed", last.Name, last)
			}
		})
	}
}

var errStoreUnreachable = errors.New("store unreachable")

// unreadableStore fails every read
type unreadableStore struct{}

func (unreadableStore) LastResult(context.Context, string) (any, bool, error) {
	return nil, false, errStoreUnreachable
}

func TestRunAllTests_ResultStoreError(t *testing.T) {
	cfg := quickConfig(t)
	cfg.Results = unreadableStore{}

	summary, err := mustRun(t, cfg)
	if !errors.Is(err, errStoreUnreachable) {
		t.Fatalf("RunAllTests() error = %v, want the store error", err)
	}
	var assertion *autotest.AssertionError
	if errors.As(err, &assertion) {
		t.Errorf("store failure reported as assertion %q", assertion.Message)
	}
	if got := len(summary.Groups); got != 2 {
		t.Errorf("ran %d groups, want 2", got)
	}
}

func TestRunAllTests_ErrorDataNotExpected(t *testing.T) {
	cfg := quickConfig(t)
	cfg.Negative = []fixtures.NegativeCase{{
		Method:            "asyncFunctionThrowsError",
		Args:              []any{},
		ExpectedError:     fixtures.ExpectedError{Code: -32002, Message: "Method has returned error"},
		ExpectedClassName: "ExecutionError",
	}}

	summary, err := mustRun(t, cfg)
	if err != nil {
		t.Fatalf("RunAllTests() error = %v", err)
	}
	if !summary.Passed() {
		t.Errorf("Passed() = false, err = %v", summary.Err)
	}

	// the server is still running; the error carries data the case does not mention
	_, callErr := cfg.SimpleClient.CallMethod(context.Background(), "asyncFunctionThrowsError", []any{})
	var rpcErr autotest.RPCError
	if !errors.As(callErr, &rpcErr) || rpcErr.Data() == nil {
		t.Errorf("CallMethod() error = %v, want an RPC error with data", callErr)
	}
}

// recordingServer wraps a server and logs lifecycle calls
type recordingServer struct {
	autotest.Server
	calls *[]string
}

func (s recordingServer) Expose(fns fixtures.FunctionSet) error {
	*s.calls = append(*s.calls, "expose")
	return s.Server.Expose(fns)
}

func (s recordingServer) Run(ctx context.Context) error {
	*s.calls = append(*s.calls, "run")
	return s.Server.Run(ctx)
}

// recordingHook logs every callback; it panics on the first case end if asked to
type recordingHook struct {
	events   *[]string
	panicked bool
	panicky  bool
}

func (h *recordingHook) OnRunStart(ctx context.Context) context.Context {
	*h.events = append(*h.events, "run start")
	return ctx
}

func (h *recordingHook) OnRunEnd(_ context.Context, s *autotest.Summary) {
	*h.events = append(*h.events, "run end")
}

func (h *recordingHook) OnGroupStart(ctx context.Context, info autotest.GroupInfo) context.Context {
	*h.events = append(*h.events, "group "+info.Client)
	return nil
}

func (h *recordingHook) OnGroupEnd(context.Context, autotest.GroupInfo, error) {}

func (h *recordingHook) OnCaseStart(ctx context.Context, info autotest.CaseInfo) context.Context {
	*h.events = append(*h.events, info.Kind+" "+info.Method)
	return ctx
}

func (h *recordingHook) OnCaseEnd(context.Context, autotest.CaseInfo, error) {
	if h.panicky && !h.panicked {
		h.panicked = true
		panic("hook failure")
	}
}

func TestRunAllTests_LifecycleAndHooks(t *testing.T) {
	var calls, events []string
	cfg := quickConfig(t)
	cfg.Server = recordingServer{Server: cfg.Server, calls: &calls}
	hook := &recordingHook{events: &events, panicky: true}
	cfg.Hooks = []autotest.Hook{hook}

	if _, err := mustRun(t, cfg); err != nil {
		t.Fatalf("RunAllTests() error = %v", err)
	}
	if diff := cmp.Diff([]string{"expose", "run"}, calls); diff != "" {
		t.Errorf("server calls mismatch (-want +got):\n%s", diff)
	}
	if !hook.panicked {
		t.Error("hook never panicked")
	}

	want := []string{
		"run start",
		"group simpleClient", "call syncFunctionWithoutArgs",
		"group simpleClient", "notify syncFunctionWithoutArgs",
		"group simpleClient", "batch batch",
		"group proxifiedClient", "call syncFunctionWithoutArgs",
		"group proxifiedClient", "notify syncFunctionWithoutArgs",
		"group proxifiedClient", "call syncFunctionWithoutArgs",
		"group proxifiedClient", "notify syncFunctionWithoutArgs",
		"group simpleClient", "call notExistingMethod",
		"group proxifiedClient", "call notExistingMethod",
		"group proxifiedClient", "call notExistingMethod",
		"group simpleClient", "ping ping",
		"group proxifiedClient", "ping ping",
		"run end",
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("hook events mismatch (-want +got):\n%s", diff)
	}
}

// failingServer refuses to start
type failingServer struct{ autotest.Server }

func (failingServer) Run(context.Context) error { return errors.New("port in use") }

func TestRunAllTests_ServerFailure(t *testing.T) {
	cfg := quickConfig(t)
	cfg.Server = failingServer{cfg.Server}

	summary, err := mustRun(t, cfg)
	if err == nil || !strings.Contains(err.Error(), "failed to run server: port in use") {
		t.Fatalf("RunAllTests() error = %v", err)
	}
	if len(summary.Groups) != 0 {
		t.Errorf("ran %d groups, want 0", len(summary.Groups))
	}
}
