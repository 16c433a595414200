package contract

import "errors"

var (
	// ErrNotFound is returned when no contract row exists for the provided identifier.
	ErrNotFound = errors.New("contract: not found")
	// ErrVersionConflict signals a concurrent writer won the optimistic-lock race.
	ErrVersionConflict = errors.New("contract: version conflict")
)

// ValidationError reports an illegal transition or malformed input. It is
// permanent and must not be retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "contract: " + e.Reason
}

func validationErr(reason string) error {
	return &ValidationError{Reason: reason}
}

// AuthorizationError reports a caller that is neither the owner nor a named
// party of the contract. Permanent.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "contract: " + e.Reason
}

func authorizationErr(reason string) error {
	return &AuthorizationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
