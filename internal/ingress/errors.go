package ingress

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	MissingField ErrorKind = "MissingField"
	InvalidField ErrorKind = "InvalidField"
)

// ValidationError reports the first rule an update broke.
type ValidationError struct {
	Kind  ErrorKind
	Field string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("missing field: %s", e.Field)
	case InvalidField:
		return fmt.Sprintf("invalid field: %s", e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
}

// ErrMalformedBody is returned when a payload is not a JSON object.
var ErrMalformedBody = errors.New("malformed request body")

func missing(field string) error {
	return &ValidationError{Kind: MissingField, Field: field}
}

func invalid(field string) error {
	return &ValidationError{Kind: InvalidField, Field: field}
}

// IsValidation reports whether err is a validation failure, i.e. the
// submitter's fault.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrMalformedBody)
}
