package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation     = errors.New("invalid sync input")
	ErrStoreRead      = errors.New("listing store read failed")
	ErrSnapshotSource = errors.New("snapshot source failed")
)

// ValidationError rejects a malformed diff. Nothing is written when it is
// returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	const shown = 5
	msg := strings.Join(e.Problems[:min(shown, len(e.Problems))], "; ")
	if extra := len(e.Problems) - shown; extra > 0 {
		msg += fmt.Sprintf(" (+%d more)", extra)
	}
	return ErrValidation.Error() + ": " + msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type StoreReadError struct {
	Op    string
	Cause error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreRead.Error(), e.Op, e.Cause)
}

func (e *StoreReadError) Unwrap() error {
	return e.Cause
}

func (e *StoreReadError) Is(target error) bool {
	return target == ErrStoreRead
}

// RecordError is a recovered per-record write failure.
type RecordError struct {
	Op    string
	URL   string
	Cause error
}

func (e RecordError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Cause)
}
