// Command mock-handler is a handler hosting the in-process loopback pair. It
// serves as the reference the runner is checked against.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/stringintech/rpc-autotester/autotest"
	"github.com/stringintech/rpc-autotester/fixtures"
	"github.com/stringintech/rpc-autotester/handler"
	"github.com/stringintech/rpc-autotester/loopback"
)

func main() {
	requestTimeout := pflag.Duration("request-timeout", autotest.RequiredRequestTimeout, "Request timeout of both clients")
	noPing := pflag.Bool("no-ping", false, "Host clients without ping support")
	pflag.Parse()

	// stdout carries the protocol; diagnostics go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	rec := fixtures.NewRecorder()
	server := loopback.NewServer().WithLogger(logger)
	opts := loopback.Options{RequestTimeout: *requestTimeout}

	target := handler.Target{
		Functions: fixtures.Functions(rec),
		Server:    server,
		Simple:    loopback.NewClient(server, opts),
		Proxified: loopback.NewProxyClient(server, opts),
		Results:   rec,
		X:         loopback.Exceptions(),
	}
	if *noPing {
		target.Simple = withoutPing{target.Simple}
		target.Proxified = proxyWithoutPing{target.Proxified}
	}

	if err := handler.Serve(context.Background(), os.Stdin, os.Stdout, target); err != nil {
		fmt.Fprintf(os.Stderr, "Error serving requests: %v\n", err)
		os.Exit(1)
	}
}

// withoutPing and proxyWithoutPing hide the Ping method of the wrapped client
type withoutPing struct{ autotest.Client }

type proxyWithoutPing struct{ autotest.ProxyClient }
