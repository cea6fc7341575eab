package autotest

import (
	"context"
	"errors"
	"fmt"

	"github.com/stringintech/rpc-autotester/fixtures"
)

type groupFunc func(ctx context.Context, g *groupRun) error

func (a assertion) unexpected(err error) error {
	return fmt.Errorf("%s: %s: unexpected error: %w", a.group, a.method, err)
}

func (t *AutoTester) simplePositive(c Caller) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		for _, tc := range t.positive {
			err := g.runCase(ctx, CaseInfo{Method: tc.Method, Kind: KindCall}, func(ctx context.Context, a assertion) error {
				got, err := c.CallMethod(ctx, tc.Method, tc.Args)
				if err != nil {
					return a.unexpected(err)
				}
				return a.deepEqual(tc.ExpectedResult, got, "check result")
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *AutoTester) simplePositiveNotification(c Caller) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		for _, tc := range t.positive {
			err := g.runCase(ctx, CaseInfo{Method: tc.Method, Kind: KindNotify}, func(ctx context.Context, a assertion) error {
				delivered, err := c.Notify(ctx, tc.Method, tc.Args)
				if err != nil {
					return a.unexpected(err)
				}
				if err := a.isTrue(delivered, "check notification acknowledgement"); err != nil {
					return err
				}
				return t.checkStoredResult(ctx, a, tc)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *AutoTester) batch(c Caller) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		calls := make([]BatchCall, 0, len(t.positive))
		expected := make([]BatchResult, 0, len(t.positive))
		for _, tc := range t.positive {
			calls = append(calls, BatchCall{Method: tc.Method, Args: tc.Args})
			expected = append(expected, BatchResult{Success: true, Result: tc.ExpectedResult})
		}

		return g.runCase(ctx, CaseInfo{Method: "batch", Kind: KindBatch}, func(ctx context.Context, a assertion) error {
			got, err := c.RunBatch(ctx, calls)
			if err != nil {
				return a.unexpected(err)
			}
			if len(got) != len(expected) {
				return a.fail("check batch size: expected %d results, got %d", len(expected), len(got))
			}
			for i, r := range got {
				if !r.Success {
					return a.fail("batch entry %d (%s) failed: %v", i, calls[i].Method, r.Error)
				}
			}
			return a.deepEqual(expected, got, "check batch results")
		})
	}
}

func (t *AutoTester) proxyPositive(p ProxyClient) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		for _, tc := range t.positive {
			info := CaseInfo{Method: tc.Method, Kind: KindCall, Proxy: true}
			err := g.runCase(ctx, info, func(ctx context.Context, a assertion) error {
				call := p.CallMethodMember(tc.Method)
				if call == nil {
					return a.fail("proxy has no callMethod member %q", tc.Method)
				}
				got, err := call(ctx, tc.Args...)
				if err != nil {
					return a.unexpected(err)
				}
				return a.deepEqual(tc.ExpectedResult, got, "check result")
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *AutoTester) proxyPositiveNotification(p ProxyClient) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		for _, tc := range t.positive {
			info := CaseInfo{Method: tc.Method, Kind: KindNotify, Proxy: true}
			err := g.runCase(ctx, info, func(ctx context.Context, a assertion) error {
				notify := p.NotifyMember(tc.Method)
				if notify == nil {
					return a.fail("proxy has no notify member %q", tc.Method)
				}
				delivered, err := notify(ctx, tc.Args...)
				if err != nil {
					return a.unexpected(err)
				}
				if err := a.isTrue(delivered, "check notification acknowledgement"); err != nil {
					return err
				}
				return t.checkStoredResult(ctx, a, tc)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *AutoTester) simpleNegative(c Caller) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		for _, tc := range t.negative {
			info := CaseInfo{Method: tc.Method, Kind: KindCall, Negative: true}
			err := g.runCase(ctx, info, func(ctx context.Context, a assertion) error {
				_, err := c.CallMethod(ctx, tc.Method, tc.Args)
				return t.checkFailure(a, tc, err)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *AutoTester) proxyNegative(p ProxyClient) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		for _, tc := range t.negative {
			info := CaseInfo{Method: tc.Method, Kind: KindCall, Proxy: true, Negative: true}
			err := g.runCase(ctx, info, func(ctx context.Context, a assertion) error {
				call := p.Member(tc.Method)
				if call == nil {
					return a.fail("proxy has no member %q", tc.Method)
				}
				_, err := call(ctx, tc.Args...)
				return t.checkFailure(a, tc, err)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// pingPong takes the client untyped since ping is an optional capability
func (t *AutoTester) pingPong(client any) groupFunc {
	return func(ctx context.Context, g *groupRun) error {
		return g.runCase(ctx, CaseInfo{Method: "ping", Kind: KindPing}, func(ctx context.Context, a assertion) error {
			pinger, ok := client.(Pinger)
			if !ok {
				return fmt.Errorf("%s: %w", g.info.Client, ErrPingUnsupported)
			}
			pong, err := pinger.Ping(ctx)
			if err != nil {
				return a.unexpected(err)
			}
			return a.isTrue(pong, "check ping result")
		})
	}
}

func (t *AutoTester) checkStoredResult(ctx context.Context, a assertion, tc fixtures.PositiveCase) error {
	stored, ok, err := t.results.LastResult(ctx, tc.Method)
	if err != nil {
		return a.unexpected(err)
	}
	if !ok {
		return a.fail("check stored result: nothing recorded for %s", tc.Method)
	}
	return a.deepEqual(tc.ExpectedResult, stored, "check stored result")
}

// checkFailure verifies err against a negative case. A nil err is itself a failure.
func (t *AutoTester) checkFailure(a assertion, tc fixtures.NegativeCase, err error) error {
	if err == nil {
		return a.fail(`Method "%s" should fail but was executed without any error`, tc.Method)
	}

	class, ok := t.x.Lookup(tc.ExpectedClassName)
	if !ok {
		return a.fail("check error class: %q is not registered", tc.ExpectedClassName)
	}
	if !class.Matches(err) {
		got := fmt.Sprintf("%T", err)
		if name, ok := t.x.Classify(err); ok {
			got = name
		}
		return a.fail("check error class: expected instance of %s, got %s: %v", class.Name, got, err)
	}

	var rpcErr RPCError
	if !errors.As(err, &rpcErr) {
		return a.fail("check error shape: %T carries no code, message and data", err)
	}
	if rpcErr.Message() != tc.ExpectedError.Message {
		return a.fail("check error message: expected %q, got %q", tc.ExpectedError.Message, rpcErr.Message())
	}
	if rpcErr.Code() != tc.ExpectedError.Code {
		return a.fail("check error code: expected %d, got %d", tc.ExpectedError.Code, rpcErr.Code())
	}

	if tc.ExpectedError.HasData() {
		want, err := tc.ExpectedError.DecodedData()
		if err != nil {
			return a.fail("check custom data: invalid expected data: %v", err)
		}
		return a.deepEqual(want, rpcErr.Data(), "check custom data")
	}
	return nil
}
