package brief

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("brief not found")
	ErrPermission        = errors.New("permission denied")
	ErrNotRefreshable    = errors.New("brief cannot be refreshed")
	ErrMissingIdentifier = errors.New("study has no NCT id")
)

const (
	StageSearch  = "search"
	StageAnalyze = "analyze"
	StagePersist = "persist"
)

// StateError is returned when a refresh is requested while the brief is generating.
// The brief is left untouched.
type StateError struct {
	ID     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("brief %s cannot be refreshed (status: %s)", e.ID, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrNotRefreshable }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// RecordError marks a single registry record that could not be normalized.
type RecordError struct {
	Index int
	NCTID string
	Err   error
}

func (e *RecordError) Error() string {
	if e.NCTID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.NCTID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// StageError names the pipeline stage a generate/refresh attempt failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}
