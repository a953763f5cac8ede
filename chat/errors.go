package chat

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Error taxonomy for the chat layer. Validation failures are rejected before
// any store is touched, NotFound covers unknown appointments/conversations/
// messages, and everything else coming back from persistence is treated as
// transient: the attempted mutation is considered not applied.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
)

// TransientStoreError wraps a persistence failure so handlers can tell "the
// store said no" apart from "the store is unwell".
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return "chat: " + e.Op + ": " + e.Err.Error()
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// storeErr maps a gorm error to the taxonomy. Record-not-found becomes
// ErrNotFound, anything else is transient.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(ErrNotFound, op)
	}
	return &TransientStoreError{Op: op, Err: err}
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}
