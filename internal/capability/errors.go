package capability

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthRequired is returned by account-scoped operations when no
	// usable Google token is present. No network call has been made.
	ErrAuthRequired = errors.New("google account not connected")

	// ErrCancelled marks work superseded by a newer request of the same kind.
	// Callers should not report it to the user.
	ErrCancelled = errors.New("cancelled")

	ErrNotFound             = errors.New("not found")
	ErrUnexpectedDisconnect = errors.New("conversation closed unexpectedly")
	ErrTimeout              = errors.New("timed out")
)

// ConfigurationError reports required identifiers that are absent.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", strings.Join(e.Missing, ", "))
}

// TransientError wraps a failed call to an external provider.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a provider failure for op. It returns nil for a nil
// err and leaves sentinel errors from this package unwrapped.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrCancelled) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
