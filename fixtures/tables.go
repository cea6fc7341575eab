package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/tools/txtar"
)

const (
	positiveSection = "positive.json"
	negativeSection = "negative.json"

	defaultTablesPath = "testdata/tables.txtar"
)

//go:embed testdata/tables.txtar
var tablesFS embed.FS

var defaultTables = sync.OnceValues(func() (*Tables, error) {
	return LoadTables(tablesFS, defaultTablesPath)
})

// PositiveCases returns a copy of the embedded positive table
func PositiveCases() []PositiveCase {
	return slices.Clone(mustDefaultTables().Positive)
}

// NegativeCases returns a copy of the embedded negative table
func NegativeCases() []NegativeCase {
	return slices.Clone(mustDefaultTables().Negative)
}

func mustDefaultTables() *Tables {
	t, err := defaultTables()
	if err != nil {
		panic(fmt.Sprintf("fixtures: embedded tables are invalid: %v", err))
	}
	return t
}

// LoadTables reads a txtar archive holding positive.json and negative.json sections
func LoadTables(fsys fs.FS, filePath string) (*Tables, error) {
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	tables, err := ParseTables(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	tables.Name = filepath.Base(filePath)
	return tables, nil
}

// ParseTables parses the raw contents of a tables archive
func ParseTables(data []byte) (*Tables, error) {
	archive := txtar.Parse(data)

	var tables Tables
	var sawPositive, sawNegative bool
	for _, f := range archive.Files {
		switch f.Name {
		case positiveSection:
			if err := json.Unmarshal(f.Data, &tables.Positive); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", f.Name, err)
			}
			sawPositive = true
		case negativeSection:
			if err := json.Unmarshal(f.Data, &tables.Negative); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", f.Name, err)
			}
			sawNegative = true
		default:
			return nil, fmt.Errorf("unexpected section %q", f.Name)
		}
	}
	if !sawPositive {
		return nil, fmt.Errorf("missing %s section", positiveSection)
	}
	if !sawNegative {
		return nil, fmt.Errorf("missing %s section", negativeSection)
	}

	for i, c := range tables.Positive {
		if c.Method == "" {
			return nil, fmt.Errorf("%s entry %d has no callMethod", positiveSection, i)
		}
		// A missing args key still means "call with no arguments".
		if c.Args == nil {
			tables.Positive[i].Args = []any{}
		}
	}
	for i, c := range tables.Negative {
		if c.Method == "" {
			return nil, fmt.Errorf("%s entry %d has no callMethod", negativeSection, i)
		}
		if c.ExpectedClassName == "" {
			return nil, fmt.Errorf("%s entry %d (%s) has no expectedClassName", negativeSection, i, c.Method)
		}
		if c.Args == nil {
			tables.Negative[i].Args = []any{}
		}
	}
	return &tables, nil
}

// ClassNames returns the error class names the negative table expects, in table order
func (t *Tables) ClassNames() []string {
	var names []string
	for _, c := range t.Negative {
		if !slices.Contains(names, c.ExpectedClassName) {
			names = append(names, c.ExpectedClassName)
		}
	}
	return names
}

// Default returns a copy of the embedded tables
func Default() *Tables {
	return &Tables{
		Name:     mustDefaultTables().Name,
		Positive: PositiveCases(),
		Negative: NegativeCases(),
	}
}
