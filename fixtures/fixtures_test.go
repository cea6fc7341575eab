package fixtures

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

func TestEmbeddedTables(t *testing.T) {
	positive := PositiveCases()
	negative := NegativeCases()
	if len(positive) == 0 || len(negative) == 0 {
		t.Fatalf("embedded tables are empty: %d positive, %d negative", len(positive), len(negative))
	}

	functions := Functions(nil)
	tables := &Tables{Positive: positive, Negative: negative}
	for _, name := range referencedMethods(tables) {
		switch name {
		case "notExistingMethod", "toString", "constructor":
			if _, ok := functions[name]; ok {
				t.Errorf("%s must not be implemented", name)
			}
		default:
			if _, ok := functions[name]; !ok {
				t.Errorf("%s is referenced by the tables but not implemented", name)
			}
		}
	}
}

func TestEmbeddedTables_ComplexDataScenario(t *testing.T) {
	var found *NegativeCase
	for _, c := range NegativeCases() {
		if c.Method == "asyncFunctionRejectsWithComplexData" {
			found = &c
			break
		}
	}
	if found == nil {
		t.Fatal("asyncFunctionRejectsWithComplexData missing from negative table")
	}
	if found.ExpectedClassName != "ExecutionError" || found.ExpectedError.Code != -32002 {
		t.Errorf("unexpected expectation: %+v", found)
	}
	data, err := found.ExpectedError.DecodedData()
	if err != nil {
		t.Fatalf("DecodedData: %v", err)
	}
	want := map[string]any{"from": "asyncFunctionRejectsWithComplexData", "args": []any{"arg1", float64(123)}}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestPositiveFunctionsMatchTable(t *testing.T) {
	rec := NewRecorder()
	functions := Functions(rec)
	for _, c := range PositiveCases() {
		t.Run(c.Method, func(t *testing.T) {
			got, err := functions[c.Method](context.Background(), c.Args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(c.ExpectedResult, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			stored, ok, err := rec.LastResult(context.Background(), c.Method)
			if err != nil || !ok {
				t.Fatalf("result of %s was not recorded", c.Method)
			}
			if diff := cmp.Diff(c.ExpectedResult, stored); diff != "" {
				t.Errorf("recorded result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRejections(t *testing.T) {
	functions := Functions(nil)
	args := []any{"arg1", float64(123)}

	_, err := functions["asyncFunctionRejectsWithPrimitiveData"](context.Background(), args)
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected *Rejection, got %T (%v)", err, err)
	}
	if want := `args data "arg1 123" from asyncFunctionRejectsWithPrimitiveData`; rejection.Data != want {
		t.Errorf("Data = %q, want %q", rejection.Data, want)
	}

	_, err = functions["asyncFunctionThrowsError"](context.Background(), args)
	if err == nil || err.Error() != "asyncFunctionThrowsError" {
		t.Errorf("asyncFunctionThrowsError returned %v", err)
	}
}

func TestLongRunningHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Functions(nil)["asyncFunctionLongRunning"](ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	if _, ok, _ := rec.LastResult(ctx, "m"); ok {
		t.Fatal("empty recorder reported a result")
	}
	rec.Record("m", nil)
	if v, ok, err := rec.LastResult(ctx, "m"); !ok || v != nil || err != nil {
		t.Errorf("LastResult = %v, %v, %v; want nil, true, nil", v, ok, err)
	}
	rec.Record("m", "again")
	if v, _, _ := rec.LastResult(ctx, "m"); v != "again" {
		t.Errorf("LastResult = %v, want the latest result", v)
	}

	var nilRec *Recorder
	nilRec.Record("m", 1)
	if _, ok, _ := nilRec.LastResult(ctx, "m"); ok {
		t.Error("nil recorder reported a result")
	}
}

func TestParseTables(t *testing.T) {
	tests := []struct {
		name       string
		archive    string
		wantErrMsg string
	}{
		{
			name: "valid",
			archive: "-- positive.json --\n[{\"callMethod\": \"a\", \"expectedResult\": 1}]\n" +
				"-- negative.json --\n[{\"callMethod\": \"b\", \"args\": [], \"expectedError\": {\"code\": 1, \"message\": \"m\"}, \"expectedClassName\": \"C\"}]\n",
		},
		{
			name:       "missing negative",
			archive:    "-- positive.json --\n[]\n",
			wantErrMsg: "missing negative.json",
		},
		{
			name:       "unknown section",
			archive:    "-- positive.json --\n[]\n-- negative.json --\n[]\n-- extra.json --\n{}\n",
			wantErrMsg: "unexpected section",
		},
		{
			name:       "negative without class",
			archive:    "-- positive.json --\n[]\n-- negative.json --\n[{\"callMethod\": \"b\"}]\n",
			wantErrMsg: "no expectedClassName",
		},
		{
			name:       "bad json",
			archive:    "-- positive.json --\n[{]\n-- negative.json --\n[]\n",
			wantErrMsg: "failed to parse positive.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables, err := ParseTables([]byte(tt.archive))
			if tt.wantErrMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErrMsg) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErrMsg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(tables.Positive[0].Args) != 0 || tables.Positive[0].Args == nil {
				t.Errorf("missing args should decode as an empty list, got %#v", tables.Positive[0].Args)
			}
			if tables.Negative[0].ExpectedError.HasData() {
				t.Error("omitted data reported as present")
			}
		})
	}
}

func TestLoadTables(t *testing.T) {
	fsys := fstest.MapFS{
		"custom/tables.txtar": {Data: []byte("-- positive.json --\n[]\n-- negative.json --\n[]\n")},
	}
	tables, err := LoadTables(fsys, "custom/tables.txtar")
	if err != nil {
		t.Fatalf("LoadTables: %v", err)
	}
	if tables.Name != "tables.txtar" {
		t.Errorf("Name = %q", tables.Name)
	}

	if _, err := LoadTables(fsys, "missing.txtar"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFunctionSetSubset(t *testing.T) {
	set := Functions(nil)
	sub, err := set.Subset([]string{"syncFunctionWithoutArgs"})
	if err != nil || len(sub) != 1 {
		t.Fatalf("Subset = %v, %v", sub, err)
	}
	if _, err := set.Subset([]string{"nope"}); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("expected unknown function error, got %v", err)
	}
}

func TestDefaultTables(t *testing.T) {
	tables := Default()
	if tables.Name != "tables.txtar" {
		t.Errorf("Name = %q, want tables.txtar", tables.Name)
	}
	want := []string{"MethodNotFound", "RequestTimeout", "ExecutionError"}
	if diff := cmp.Diff(want, tables.ClassNames()); diff != "" {
		t.Errorf("ClassNames() mismatch (-want +got):\n%s", diff)
	}

	tables.Positive[0].Method = "mutated"
	if PositiveCases()[0].Method == "mutated" {
		t.Error("Default() shares its tables with the embedded copy")
	}
}

// referencedMethods returns every method name referenced by t, in table order
func referencedMethods(t *Tables) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, c := range t.Positive {
		add(c.Method)
	}
	for _, c := range t.Negative {
		add(c.Method)
	}
	return names
}
