package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidLicense       = errors.New("invalid or inactive license")
	ErrLicenseAlreadyActive = errors.New("user already has an active license")
	ErrLicenseNotFound      = errors.New("license not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrConcurrencyConflict  = errors.New("concurrent modification")
	ErrNoVerifiedActivity   = errors.New("no verified broker activity")
	ErrUnknownBroker        = errors.New("unknown broker")
)

// ValidationError reports a malformed field. Its message is safe to return verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
