package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/stringintech/rpc-autotester/autotest"
)

// ANSI escape codes
const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

func printSummary(w io.Writer, tables string, s *autotest.Summary, color bool) {
	mark := func(ok bool) string {
		symbol, code := "✓", colorGreen
		if !ok {
			symbol, code = "✗", colorRed
		}
		if !color {
			return symbol
		}
		return code + symbol + colorReset
	}

	fmt.Fprintf(w, "\n=== Autotest battery: %s ===\n\n", tables)
	for _, g := range s.Groups {
		fmt.Fprintf(w, "  %s %s (%d/%d)\n", mark(g.Err == nil), g.Name, g.Passed, g.Cases)
		if g.Err != nil {
			for _, line := range strings.Split(g.Err.Error(), "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}
	if s.Err != nil && len(s.Groups) == 0 {
		fmt.Fprintf(w, "  %s %v\n", mark(false), s.Err)
	}

	passed := 0
	for _, g := range s.Groups {
		passed += g.Passed
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(w, "TOTAL SUMMARY\n")
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(w, "Groups:      %d\n", len(s.Groups))
	fmt.Fprintf(w, "Cases:       %d\n", s.TotalCases())
	fmt.Fprintf(w, "Passed:      %d\n", passed)
	fmt.Fprintf(w, "Failed:      %d\n", s.TotalCases()-passed)
	fmt.Fprintf(w, "Duration:    %s\n", s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Result:      %s\n", result(s))
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 60))
}

func result(s *autotest.Summary) string {
	if s.Passed() {
		return "PASSED"
	}
	return "FAILED"
}
