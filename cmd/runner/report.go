package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/stringintech/rpc-autotester/autotest"
)

// Report is the machine-readable outcome of a run
type Report struct {
	Handler    string        `json:"handler"`
	Tables     string        `json:"tables"`
	Passed     bool          `json:"passed"`
	Error      string        `json:"error,omitempty"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	DurationMs int64         `json:"duration_ms"`
	TotalCases int           `json:"total_cases"`
	Groups     []GroupReport `json:"groups"`
}

// GroupReport is the outcome of one group
type GroupReport struct {
	Name   string `json:"name"`
	Client string `json:"client"`
	Cases  int    `json:"cases"`
	Passed int    `json:"passed"`
	Error  string `json:"error,omitempty"`
}

func newReport(handlerPath, tables string, s *autotest.Summary) Report {
	r := Report{
		Handler:    handlerPath,
		Tables:     tables,
		Passed:     s.Passed(),
		Started:    s.Started,
		Finished:   s.Finished,
		DurationMs: s.Duration().Milliseconds(),
		TotalCases: s.TotalCases(),
		Groups:     make([]GroupReport, 0, len(s.Groups)),
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	for _, g := range s.Groups {
		gr := GroupReport{Name: g.Name, Client: g.Client, Cases: g.Cases, Passed: g.Passed}
		if g.Err != nil {
			gr.Error = g.Err.Error()
		}
		r.Groups = append(r.Groups, gr)
	}
	return r
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// writeReport writes r as indented JSON, zstd-compressed when path ends in .zst
func writeReport(path string, r Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if isCompressed(path) {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		defer func() {
			if cerr := zw.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = zw
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
