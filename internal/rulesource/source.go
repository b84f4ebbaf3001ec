package rulesource

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"upbitmt/internal/rule"
)

// Result is one read of the rule source: accepted rules in file order plus
// every rejected row.
type Result struct {
	Rules    []rule.WatchRule
	Rejected []*rule.ConfigError
}

// Source produces the ordered rule set.
type Source interface {
	LoadRules(ctx context.Context) (Result, error)
	Path() string
}

// Open picks the source implementation from the file extension.
func Open(path string, resolver AssetResolver, loc *time.Location) (Source, error) {
	parser := NewParser(filepath.Base(path), resolver, loc)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return NewExcelSource(path, parser), nil
	case ".yaml", ".yml":
		return NewYAMLSource(path, parser)
	default:
		return nil, fmt.Errorf("unsupported rule file %q", path)
	}
}
