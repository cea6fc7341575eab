// Package autotest runs a fixed conformance battery against an RPC client/server
// pair: positive, notification, batch, proxy, negative and ping groups, in
// that order, stopping at the first failure.
package autotest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stringintech/rpc-autotester/fixtures"
)

var (
	// ErrConfig indicates the tester was constructed with missing or misconfigured collaborators
	ErrConfig = errors.New("autotest: invalid configuration")
	// ErrPingUnsupported indicates a client without the ping capability
	ErrPingUnsupported = errors.New("Ping method is not supported. Update the RPC client package!")
)

// Config holds the collaborators of a battery
type Config struct {
	SimpleClient    Client
	ProxifiedClient ProxyClient
	Server          Server
	X               *Exceptions

	// Results is read to verify notification side effects
	Results ResultStore
	// Functions is exposed on Server before any call is made
	Functions fixtures.FunctionSet

	// Positive and Negative default to the embedded fixture tables
	Positive []fixtures.PositiveCase
	Negative []fixtures.NegativeCase

	// Hooks default to a single log hook writing to Logger
	Hooks  []Hook
	Logger *slog.Logger
}

// AutoTester runs the battery. It holds no state between runs.
type AutoTester struct {
	simpleClient    Client
	proxifiedClient ProxyClient
	server          Server
	x               *Exceptions
	results         ResultStore
	functions       fixtures.FunctionSet
	positive        []fixtures.PositiveCase
	negative        []fixtures.NegativeCase
	hooks           *hookChain
}

// New validates cfg and returns a tester. Both clients must be configured with
// RequiredRequestTimeout; it is checked, never defaulted.
func New(cfg Config) (*AutoTester, error) {
	if cfg.SimpleClient == nil {
		return nil, fmt.Errorf(`%w: "simpleClient" required`, ErrConfig)
	}
	if cfg.ProxifiedClient == nil {
		return nil, fmt.Errorf(`%w: "proxifiedClient" required`, ErrConfig)
	}
	if cfg.Server == nil {
		return nil, fmt.Errorf(`%w: "server" required`, ErrConfig)
	}
	if cfg.X == nil {
		return nil, fmt.Errorf(`%w: "X" exceptions registry required`, ErrConfig)
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf(`%w: "results" store required`, ErrConfig)
	}
	if len(cfg.Functions) == 0 {
		return nil, fmt.Errorf(`%w: "functions" to expose required`, ErrConfig)
	}

	if cfg.SimpleClient.RequestTimeout() != RequiredRequestTimeout {
		return nil, fmt.Errorf(`%w: "simpleClient" requestTimeout must be set to 1000`, ErrConfig)
	}
	if cfg.ProxifiedClient.Options().RequestTimeout != RequiredRequestTimeout {
		return nil, fmt.Errorf(`%w: "proxifiedClient" requestTimeout must be set to 1000`, ErrConfig)
	}

	positive := cfg.Positive
	if positive == nil {
		positive = fixtures.PositiveCases()
	}
	negative := cfg.Negative
	if negative == nil {
		negative = fixtures.NegativeCases()
	}
	for _, c := range negative {
		if _, ok := cfg.X.Lookup(c.ExpectedClassName); !ok {
			return nil, fmt.Errorf("%w: negative case %q expects unregistered error class %q",
				ErrConfig, c.Method, c.ExpectedClassName)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hooks := cfg.Hooks
	if len(hooks) == 0 {
		hooks = []Hook{NewLogHook(logger)}
	}

	return &AutoTester{
		simpleClient:    cfg.SimpleClient,
		proxifiedClient: cfg.ProxifiedClient,
		server:          cfg.Server,
		x:               cfg.X,
		results:         cfg.Results,
		functions:       cfg.Functions,
		positive:        positive,
		negative:        negative,
		hooks:           &hookChain{hooks: hooks, logger: logger},
	}, nil
}

// Summary describes one run of the battery
type Summary struct {
	Groups   []GroupResult `json:"groups"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Err      error         `json:"-"`
}

// GroupResult is the outcome of one group. Groups after the first failure are not listed.
type GroupResult struct {
	Name   string `json:"name"`
	Client string `json:"client"`
	Cases  int    `json:"cases"`
	Passed int    `json:"passed"`
	Err    error  `json:"-"`
}

// Passed reports whether every group ran and passed
func (s *Summary) Passed() bool {
	return s.Err == nil
}

// TotalCases returns the number of cases that were started
func (s *Summary) TotalCases() int {
	total := 0
	for _, g := range s.Groups {
		total += g.Cases
	}
	return total
}

// Duration returns how long the run took
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// group is one step of the battery
type group struct {
	info GroupInfo
	run  func(ctx context.Context, g *groupRun) error
}

// RunAllTests exposes the function set, starts the server and runs every group
// in order. The first failure ends the run; it is returned and also recorded in
// the summary.
func (t *AutoTester) RunAllTests(ctx context.Context) (*Summary, error) {
	summary := &Summary{Started: time.Now()}
	ctx = t.hooks.runStart(ctx)

	err := t.run(ctx, summary)
	summary.Finished = time.Now()
	summary.Err = err

	t.hooks.runEnd(ctx, summary)
	return summary, err
}

func (t *AutoTester) run(ctx context.Context, summary *Summary) error {
	if err := t.exposeServerMethods(ctx); err != nil {
		return err
	}

	for _, g := range t.groups() {
		result, err := t.runGroup(ctx, g)
		summary.Groups = append(summary.Groups, result)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *AutoTester) exposeServerMethods(ctx context.Context) error {
	if err := t.server.Expose(t.functions); err != nil {
		return fmt.Errorf("failed to expose server methods: %w", err)
	}
	if err := t.server.Run(ctx); err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (t *AutoTester) groups() []group {
	const simple, proxified = "simpleClient", "proxifiedClient"
	s, p := t.simpleClient, t.proxifiedClient

	return []group{
		// Positive
		{GroupInfo{"Run simple positive tests for simpleClient:", simple}, t.simplePositive(s)},
		{GroupInfo{"Run simple positive notification tests for simpleClient:", simple}, t.simplePositiveNotification(s)},
		{GroupInfo{"Run positive batch tests for simpleClient:", simple}, t.batch(s)},
		{GroupInfo{"Run simple positive tests for proxifiedClient:", proxified}, t.simplePositive(p)},
		{GroupInfo{"Run simple positive notification tests for proxifiedClient:", proxified}, t.simplePositiveNotification(p)},
		{GroupInfo{"Run proxy positive tests for proxifiedClient:", proxified}, t.proxyPositive(p)},
		{GroupInfo{"Run proxy positive notification tests for proxifiedClient:", proxified}, t.proxyPositiveNotification(p)},

		// Negative
		{GroupInfo{"Run simple negative tests for simpleClient:", simple}, t.simpleNegative(s)},
		{GroupInfo{"Run simple negative tests for proxifiedClient:", proxified}, t.simpleNegative(p)},
		{GroupInfo{"Run proxy negative tests for proxifiedClient:", proxified}, t.proxyNegative(p)},

		// Liveness
		{GroupInfo{"Run ping pong tests for simpleClient.", simple}, t.pingPong(s)},
		{GroupInfo{"Run ping pong tests for proxifiedClient.", proxified}, t.pingPong(p)},
	}
}

func (t *AutoTester) runGroup(ctx context.Context, g group) (GroupResult, error) {
	result := GroupResult{Name: g.info.Name, Client: g.info.Client}
	ctx = t.hooks.groupStart(ctx, g.info)

	run := &groupRun{tester: t, info: g.info, result: &result}
	err := g.run(ctx, run)
	result.Err = err

	t.hooks.groupEnd(ctx, g.info, err)
	return result, err
}

// groupRun tracks the cases of the group being executed
type groupRun struct {
	tester *AutoTester
	info   GroupInfo
	result *GroupResult
}

// runCase wraps one collaborator call with hook callbacks and counters
func (g *groupRun) runCase(ctx context.Context, info CaseInfo, fn func(ctx context.Context, a assertion) error) error {
	info.Group = g.info
	info.Index = g.result.Cases
	g.result.Cases++

	ctx = g.tester.hooks.caseStart(ctx, info)
	err := fn(ctx, assertion{group: g.info.Name, method: info.Method})
	g.tester.hooks.caseEnd(ctx, info, err)
	if err != nil {
		return err
	}
	g.result.Passed++
	return nil
}
