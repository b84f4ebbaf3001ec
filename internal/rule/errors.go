package rule

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownRule = errors.New("unknown rule")
	ErrTerminal    = errors.New("rule is in a terminal state")
)

// ConfigError rejects a single row of the rule source. The rest of the source
// still loads.
type ConfigError struct {
	Source string
	Row    int
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	loc := e.Source
	if e.Row > 0 {
		loc = fmt.Sprintf("%s row %d", e.Source, e.Row)
	}
	if e.Field == "" {
		return fmt.Sprintf("config error at %s: %s", loc, e.Reason)
	}
	if e.Value == "" {
		return fmt.Sprintf("config error at %s [%s]: %s", loc, e.Field, e.Reason)
	}
	return fmt.Sprintf("config error at %s [%s=%q]: %s", loc, e.Field, e.Value, e.Reason)
}
