package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInsufficientData means normalization or feature derivation left no
	// usable row. It is expected while history is still accumulating and must
	// be presented as "need more history", not as a fault.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrSchema means the input has rows but no recognizable timestamp column.
	ErrSchema = errors.New("schema error")

	// ErrFeatureMismatch means a projected row lacks a feature a model declares.
	ErrFeatureMismatch = errors.New("feature mismatch")

	// ErrHistoryUnavailable means the history store could not be read.
	ErrHistoryUnavailable = errors.New("history unavailable")

	// ErrInvalidRequest means an observation request failed validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// FeatureMismatchError lists the declared features that were absent or
// missing when projecting a row onto a feature set.
type FeatureMismatchError struct {
	Set     string
	Missing []string
}

func (e *FeatureMismatchError) Error() string {
	return fmt.Sprintf("%s: feature set %q missing %s", ErrFeatureMismatch, e.Set, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrFeatureMismatch) match.
func (e *FeatureMismatchError) Is(target error) bool {
	return target == ErrFeatureMismatch
}

// ObservationTimeError reports a reading stamped outside the accepted window.
// It matches ErrInvalidRequest.
type ObservationTimeError struct {
	At, Earliest, Latest time.Time
}

func (e *ObservationTimeError) Error() string {
	return fmt.Sprintf("%s: timestamp %s outside %s .. %s", ErrInvalidRequest,
		e.At.Format(time.RFC3339), e.Earliest.Format(time.RFC3339), e.Latest.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrInvalidRequest) match.
func (e *ObservationTimeError) Is(target error) bool {
	return target == ErrInvalidRequest
}
