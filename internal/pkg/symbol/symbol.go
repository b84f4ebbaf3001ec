package symbol

import (
	"strings"
)

// DefaultQuote is the quote currency of every market the engine trades.
const DefaultQuote = "KRW"

type Symbol struct {
	Base  string
	Quote string
}

// Market returns the exchange market code, e.g. KRW-BTC.
func (s Symbol) Market() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Quote + "-" + s.Base
}

// Pair returns the slash form, e.g. BTC/KRW.
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Parse accepts KRW-BTC, BTC/KRW, BTC_KRW or a bare ticker (quoted in KRW).
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[1]),
			Quote: strings.TrimSpace(parts[0]),
		}
	}
	for _, sep := range []string{"/", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Symbol{
				Base:  strings.TrimSpace(parts[0]),
				Quote: strings.TrimSpace(parts[1]),
			}
		}
	}
	if isTicker(s) {
		return Symbol{Base: s, Quote: DefaultQuote}
	}
	return Symbol{}
}

// Normalize converts any accepted spelling to the market code, or "".
func Normalize(s string) string {
	return Parse(s).Market()
}

func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

func isTicker(s string) bool {
	if len(s) == 0 || len(s) > 12 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
