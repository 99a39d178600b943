package sweeper

import (
	"fmt"

	"electrum-sweeper/internal/clients_api/electrum"
)

// StartupError aborts the run before polling starts
type StartupError struct {
	Step string
	Err  error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Step, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// LookupError is a funded key electrum reported that the key file never had.
// Nothing is swept in that cycle.
type LookupError struct {
	Key string // redacted
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("funded key %s has no target address: %v", e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsFatal reports whether err must stop the sweeper
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !electrum.IsTransient(err) && !electrum.IsBreakerOpen(err)
}
