package models

import (
	"errors"
	"fmt"
)

// Error kinds by origin. Concrete errors wrap one of these so callers can branch
// with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrTransport  = errors.New("transport error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrTimeout    = errors.New("timeout")
	ErrSuperseded = errors.New("superseded by a newer request")
)

var (
	ErrDuplicateSpecies = fmt.Errorf("%w: species already in region", ErrConflict)
	ErrSpeciesNotFound  = fmt.Errorf("%w: species not in region", ErrNotFound)
)

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
