package rule

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultRetryCeiling = 3

// LoadSummary describes what a Load did to the previous rule set.
type LoadSummary struct {
	Total    int
	Added    int
	Kept     int
	Removed  []WatchRule
	Terminal int
}

// Store owns the rule set for the process. Rules are kept in load order.
// Transitions only move forward: Pending to Fired, Expired or Failed.
type Store struct {
	mu      sync.RWMutex
	order   []string
	rules   map[string]*WatchRule
	ceiling int
	now     func() time.Time
}

func NewStore(retryCeiling int) *Store {
	if retryCeiling <= 0 {
		retryCeiling = DefaultRetryCeiling
	}
	return &Store{
		rules:   make(map[string]*WatchRule),
		ceiling: retryCeiling,
		now:     time.Now,
	}
}

func (s *Store) RetryCeiling() int {
	return s.ceiling
}

// Load replaces the rule set. Rules whose identity already exists keep their
// runtime state, terminal or not, so a reload never re-arms a fired rule.
func (s *Store) Load(rules []WatchRule) LoadSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*WatchRule, len(rules))
	order := make([]string, 0, len(rules))
	seen := make(map[string]int, len(rules))
	summary := LoadSummary{Total: len(rules)}

	for _, incoming := range rules {
		base := incoming.Identity()
		seen[base]++
		id := base
		if n := seen[base]; n > 1 {
			id = fmt.Sprintf("%s#%d", base, n)
		}
		r := incoming
		r.ID = id
		if prev, ok := s.rules[id]; ok {
			r.Runtime = prev.Runtime
			summary.Kept++
		} else {
			r.Runtime = Runtime{State: StatePending, UpdatedAt: s.now()}
			summary.Added++
		}
		if r.Runtime.State.Terminal() {
			summary.Terminal++
		}
		next[id] = &r
		order = append(order, id)
	}
	for _, id := range s.order {
		if _, ok := next[id]; !ok {
			summary.Removed = append(summary.Removed, *s.rules[id])
		}
	}
	s.rules = next
	s.order = order
	return summary
}

// Restore applies persisted runtime state to rules with a matching ID and
// returns how many matched.
func (s *Store) Restore(states map[string]Runtime) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := 0
	for id, rt := range states {
		r, ok := s.rules[id]
		if !ok {
			continue
		}
		r.Runtime = rt
		matched++
	}
	return matched
}

// ActiveRules yields, in load order, every rule that is active, not terminal
// and not past its expiry. Each range over the result takes a fresh view.
func (s *Store) ActiveRules(today time.Time) iter.Seq[WatchRule] {
	return func(yield func(WatchRule) bool) {
		s.mu.RLock()
		ids := append([]string(nil), s.order...)
		s.mu.RUnlock()
		for _, id := range ids {
			r, ok := s.Get(id)
			if !ok || !r.Active || r.Runtime.State.Terminal() || r.ExpiredOn(today) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Sweep expires every active, non-terminal rule whose expiry is before today
// and returns the rules it transitioned.
func (s *Store) Sweep(today time.Time) []WatchRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []WatchRule
	for _, id := range s.order {
		r := s.rules[id]
		if !r.Active || r.Runtime.State.Terminal() || !r.ExpiredOn(today) {
			continue
		}
		r.Runtime.State = StateExpired
		r.Runtime.UpdatedAt = s.now()
		expired = append(expired, *r)
	}
	return expired
}

func (s *Store) Get(id string) (WatchRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return WatchRule{}, false
	}
	return *r, true
}

// All returns a copy of every rule in load order.
func (s *Store) All() []WatchRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WatchRule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.rules[id])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Counts returns the number of rules per state, plus inactive pending rules
// under the "inactive" key.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, 5)
	for _, r := range s.rules {
		if !r.Active && !r.Runtime.State.Terminal() {
			out["inactive"]++
			continue
		}
		out[r.Runtime.State.String()]++
	}
	return out
}

func (s *Store) MarkFired(id, orderID string) (WatchRule, error) {
	return s.transition(id, func(r *WatchRule) {
		r.Runtime.State = StateFired
		r.Runtime.OrderID = orderID
		r.Runtime.LastError = ""
	})
}

func (s *Store) MarkExpired(id string) (WatchRule, error) {
	return s.transition(id, func(r *WatchRule) {
		r.Runtime.State = StateExpired
	})
}

// MarkFailed records one failed attempt. The rule stays pending until its
// retry count reaches the ceiling, then becomes terminally failed.
func (s *Store) MarkFailed(id, reason string) (WatchRule, bool, error) {
	var terminal bool
	r, err := s.transition(id, func(r *WatchRule) {
		r.Runtime.RetryCount++
		r.Runtime.LastError = reason
		if r.Runtime.RetryCount >= s.ceiling {
			r.Runtime.State = StateFailed
			terminal = true
		}
	})
	return r, terminal, err
}

// MarkNeedsReconcile fails the rule immediately when an order may or may not
// exist on the exchange.
func (s *Store) MarkNeedsReconcile(id, reason string) (WatchRule, error) {
	return s.transition(id, func(r *WatchRule) {
		r.Runtime.State = StateFailed
		r.Runtime.NeedsReconcile = true
		r.Runtime.LastError = reason
	})
}

// SetBaseline records the baseline once. A second call is a no-op.
func (s *Store) SetBaseline(id string, price decimal.Decimal) (WatchRule, error) {
	return s.transition(id, func(r *WatchRule) {
		if r.Runtime.HasBaseline {
			return
		}
		r.Runtime.Baseline = price
		r.Runtime.HasBaseline = true
	})
}

func (s *Store) transition(id string, apply func(r *WatchRule)) (WatchRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return WatchRule{}, fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	if r.Runtime.State.Terminal() {
		return *r, fmt.Errorf("%w: %s is %s", ErrTerminal, id, r.Runtime.State)
	}
	apply(r)
	r.Runtime.UpdatedAt = s.now()
	return *r, nil
}
