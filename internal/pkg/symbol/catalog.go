package symbol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Listing is one tradable market with its display names.
type Listing struct {
	Market      string
	KoreanName  string
	EnglishName string
}

// Catalog maps free-form asset names (Korean name, English name, ticker,
// market code, BASE/QUOTE) onto exactly one market code.
type Catalog struct {
	mu        sync.RWMutex
	quote     string
	exact     map[string]string
	folded    map[string]string
	ambiguous map[string][]string
	markets   map[string]Listing
}

func NewCatalog(quote string) *Catalog {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = DefaultQuote
	}
	return &Catalog{
		quote:     quote,
		exact:     map[string]string{},
		folded:    map[string]string{},
		ambiguous: map[string][]string{},
		markets:   map[string]Listing{},
	}
}

// Replace rebuilds the alias table from listings. Markets in another quote
// currency are ignored. Aliases shared by two markets are dropped and
// returned so the caller can report them.
func (c *Catalog) Replace(listings []Listing) []string {
	exact := map[string]string{}
	folded := map[string]string{}
	ambiguous := map[string][]string{}
	markets := map[string]Listing{}

	add := func(alias, market string) {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			return
		}
		if owners, dup := ambiguous[alias]; dup {
			ambiguous[alias] = appendUnique(owners, market)
			return
		}
		if prev, ok := exact[alias]; ok && prev != market {
			ambiguous[alias] = []string{prev, market}
			delete(exact, alias)
			return
		}
		exact[alias] = market
	}

	for _, l := range listings {
		sym := Parse(l.Market)
		if sym.Quote != c.quote || sym.Base == "" {
			continue
		}
		market := sym.Market()
		l.Market = market
		markets[market] = l
		add(market, market)
		add(sym.Pair(), market)
		add(sym.Base, market)
		add(l.KoreanName, market)
		add(l.EnglishName, market)
	}
	for alias, market := range exact {
		key := fold(alias)
		if prev, ok := folded[key]; ok && prev != market {
			folded[key] = ""
			continue
		}
		folded[key] = market
	}

	c.mu.Lock()
	c.exact, c.folded, c.ambiguous, c.markets = exact, folded, ambiguous, markets
	c.mu.Unlock()

	out := make([]string, 0, len(ambiguous))
	for alias := range ambiguous {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the market code for alias. Exact match wins over a
// case-insensitive match.
func (c *Catalog) Resolve(alias string) (string, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return "", fmt.Errorf("empty asset name")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if market, ok := c.exact[alias]; ok {
		return market, nil
	}
	if owners, ok := c.ambiguous[alias]; ok {
		return "", fmt.Errorf("asset %q is ambiguous: %s", alias, strings.Join(owners, ", "))
	}
	if market, ok := c.folded[fold(alias)]; ok {
		if market == "" {
			return "", fmt.Errorf("asset %q is ambiguous ignoring case", alias)
		}
		return market, nil
	}
	return "", fmt.Errorf("unknown asset %q", alias)
}

func (c *Catalog) Listing(market string) (Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.markets[Normalize(market)]
	return l, ok
}

// DisplayName returns "비트코인(KRW-BTC)" style labels for messages.
func (c *Catalog) DisplayName(market string) string {
	if l, ok := c.Listing(market); ok && l.KoreanName != "" {
		return fmt.Sprintf("%s(%s)", l.KoreanName, l.Market)
	}
	return market
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
