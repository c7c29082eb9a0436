package ranging

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid modulation or ranging parameter
// combination. It is fatal to session start and is always surfaced before
// the radio transmits anything.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid ranging config: %s %s", e.Field, e.Reason)
}

// RadioError wraps a failure reported by the radio driver. Transient
// operations (arm-receive, transmit-request) are retried on the next loop
// iteration rather than aborting the session; ranging is inherently lossy.
type RadioError struct {
	Op  string
	Err error
}

func (e *RadioError) Error() string {
	return fmt.Sprintf("radio %s: %v", e.Op, e.Err)
}

func (e *RadioError) Unwrap() error { return e.Err }

// ErrIncompleteExchange reports an extended-mode exchange whose second
// sub-exchange counts are missing. This is a driver/protocol mismatch and
// is never silently downgraded to standard-mode math.
var ErrIncompleteExchange = errors.New("incomplete extended ranging exchange")

// ErrNoPendingResult is returned by drivers when raw ranging registers are
// read without a preceding exchange-valid event.
var ErrNoPendingResult = errors.New("no pending ranging result")
