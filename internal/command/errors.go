// internal/command/errors.go
package command

import "errors"

// ValidationError is a command admission failure. It is surfaced
// synchronously to the issuer and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidation reports whether err is a command admission failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
