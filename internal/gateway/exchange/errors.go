package exchange

import (
	"errors"
	"fmt"
)

var (
	ErrMarketUnavailable    = errors.New("market unavailable")
	ErrRateLimited          = errors.New("rate limited")
	ErrAuth                 = errors.New("authentication failed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrMinNotionalNotMet    = errors.New("minimum order notional not met")
	// ErrOutcomeUnknown means the request may have reached the exchange but no
	// acknowledgement came back.
	ErrOutcomeUnknown = errors.New("order outcome unknown")
)

// APIError carries the exchange's own error payload while matching one of the
// sentinels above through errors.Is.
type APIError struct {
	Status  int
	Name    string
	Message string
	Kind    error
	// NotSent is set when the request never left the host (dial, DNS,
	// local pacing or signing), so the exchange cannot have acted on it.
	NotSent bool
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	kind := "exchange error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	if e.Name == "" {
		return fmt.Sprintf("%s (http %d): %s", kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (http %d, %s): %s", kind, e.Status, e.Name, e.Message)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// IsFatal reports errors that invalidate every rule (bad credentials).
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTransient reports errors expected to clear on a later tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrMarketUnavailable) || errors.Is(err, ErrRateLimited)
}
