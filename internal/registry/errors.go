package registry

import (
	"errors"
	"fmt"
)

// ErrNoSearchTerms is returned by advanced search when neither a condition nor an
// intervention is supplied.
var ErrNoSearchTerms = errors.New("at least one of condition or intervention must be provided")

// Error is a registry failure: the first page could not be fetched after retries,
// or a search precondition was not met.
type Error struct {
	Op         string
	Query      string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "clinicaltrials " + e.Op + " failed"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRegistryError reports whether err came from the registry client.
func IsRegistryError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
