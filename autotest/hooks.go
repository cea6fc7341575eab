package autotest

import (
	"context"
	"log/slog"
)

// Call kinds reported in CaseInfo.Kind
const (
	KindCall   = "call"
	KindNotify = "notify"
	KindBatch  = "batch"
	KindPing   = "ping"
)

// GroupInfo identifies a test group
type GroupInfo struct {
	Name   string // e.g. "Run simple positive tests for simpleClient:"
	Client string // "simpleClient" or "proxifiedClient"
}

// CaseInfo identifies one call within a group
type CaseInfo struct {
	Group    GroupInfo
	Index    int
	Method   string
	Kind     string // KindCall, KindNotify, KindBatch or KindPing
	Proxy    bool   // addressed as a member rather than by name
	Negative bool
}

// Hook observes the progress of a battery. Implementations may return a
// derived context from the start callbacks; it is passed to the matching end
// callback and to the collaborator calls in between.
type Hook interface {
	OnGroupStart(ctx context.Context, info GroupInfo) context.Context
	OnGroupEnd(ctx context.Context, info GroupInfo, err error)
	OnCaseStart(ctx context.Context, info CaseInfo) context.Context
	OnCaseEnd(ctx context.Context, info CaseInfo, err error)
}

// RunHook is implemented by hooks that also want the start and end of the battery
type RunHook interface {
	OnRunStart(ctx context.Context) context.Context
	OnRunEnd(ctx context.Context, summary *Summary)
}

// logHook writes human-readable progress lines
type logHook struct {
	logger *slog.Logger
}

// NewLogHook returns a hook that logs every group and every call
func NewLogHook(logger *slog.Logger) Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return &logHook{logger: logger}
}

func (h *logHook) OnRunStart(ctx context.Context) context.Context {
	h.logger.InfoContext(ctx, "Autotests started.")
	return ctx
}

func (h *logHook) OnRunEnd(ctx context.Context, summary *Summary) {
	if summary.Err != nil {
		h.logger.ErrorContext(ctx, "Autotests failed.", "error", summary.Err)
		return
	}
	h.logger.InfoContext(ctx, "Autotests finished.", "cases", summary.TotalCases(), "duration", summary.Duration())
}

func (h *logHook) OnGroupStart(ctx context.Context, info GroupInfo) context.Context {
	h.logger.InfoContext(ctx, info.Name)
	return ctx
}

func (h *logHook) OnGroupEnd(ctx context.Context, info GroupInfo, err error) {
	if err != nil {
		h.logger.ErrorContext(ctx, "Group failed", "group", info.Name, "error", err)
	}
}

func (h *logHook) OnCaseStart(ctx context.Context, info CaseInfo) context.Context {
	h.logger.InfoContext(ctx, caseLine(info))
	return ctx
}

func (h *logHook) OnCaseEnd(ctx context.Context, info CaseInfo, err error) {
	if err != nil {
		h.logger.DebugContext(ctx, "Case failed", "method", info.Method, "error", err)
	}
}

// caseLine renders the progress line for a call, e.g. "Positive test via proxy: notifying foo"
func caseLine(info CaseInfo) string {
	if info.Kind == KindPing {
		return "Ping test: pinging " + info.Group.Client
	}
	prefix := "Positive test"
	if info.Negative {
		prefix = "Negative test"
	}
	if info.Proxy {
		prefix += " via proxy"
	}
	switch info.Kind {
	case KindNotify:
		return prefix + ": notifying " + info.Method
	case KindBatch:
		return prefix + ": calling batch"
	default:
		return prefix + ": calling " + info.Method
	}
}

// hookChain fans callbacks out to every hook and keeps a panicking hook from
// aborting the battery
type hookChain struct {
	hooks  []Hook
	logger *slog.Logger
}

func (c *hookChain) guard(name string) {
	if rv := recover(); rv != nil {
		c.logger.Error("autotest hook panic", "callback", name, "err", rv)
	}
}

func (c *hookChain) runStart(ctx context.Context) context.Context {
	for _, h := range c.hooks {
		if rh, ok := h.(RunHook); ok {
			ctx = c.callCtx("OnRunStart", ctx, func() context.Context { return rh.OnRunStart(ctx) })
		}
	}
	return ctx
}

func (c *hookChain) runEnd(ctx context.Context, summary *Summary) {
	for _, h := range c.hooks {
		if rh, ok := h.(RunHook); ok {
			func() {
				defer c.guard("OnRunEnd")
				rh.OnRunEnd(ctx, summary)
			}()
		}
	}
}

func (c *hookChain) groupStart(ctx context.Context, info GroupInfo) context.Context {
	for _, h := range c.hooks {
		ctx = c.callCtx("OnGroupStart", ctx, func() context.Context { return h.OnGroupStart(ctx, info) })
	}
	return ctx
}

func (c *hookChain) groupEnd(ctx context.Context, info GroupInfo, err error) {
	for _, h := range c.hooks {
		func() {
			defer c.guard("OnGroupEnd")
			h.OnGroupEnd(ctx, info, err)
		}()
	}
}

func (c *hookChain) caseStart(ctx context.Context, info CaseInfo) context.Context {
	for _, h := range c.hooks {
		ctx = c.callCtx("OnCaseStart", ctx, func() context.Context { return h.OnCaseStart(ctx, info) })
	}
	return ctx
}

func (c *hookChain) caseEnd(ctx context.Context, info CaseInfo, err error) {
	for _, h := range c.hooks {
		func() {
			defer c.guard("OnCaseEnd")
			h.OnCaseEnd(ctx, info, err)
		}()
	}
}

// callCtx runs a start callback and keeps ctx when the hook panics or returns nil
func (c *hookChain) callCtx(name string, ctx context.Context, fn func() context.Context) (out context.Context) {
	out = ctx
	defer c.guard(name)
	if next := fn(); next != nil {
		out = next
	}
	return out
}
