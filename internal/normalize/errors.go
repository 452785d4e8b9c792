package normalize

import (
	"errors"
	"fmt"
)

// ErrNoNormalizerFound indicates that no registered normalizer
// recognized the raw quote's source.
var ErrNoNormalizerFound = errors.New("no normalizer found for source")

// ValidationError indicates that a raw quote failed field constraints
// before or during normalization.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
