package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSourceUnavailable reports that a fetch failed after exhausting retries.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedSource reports that a fetched resource did not match its column contract.
	ErrMalformedSource = errors.New("malformed source")
	// ErrIntegrityViolation reports that one or more required raw inputs are missing.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// Names of the raw inputs of an assembly run.
const (
	InputPrimaryFeed   = "primary_feed"
	InputEntityCodes   = "entity_codes"
	InputRegionMapping = "region_mapping"
	InputUSStates      = "us_states"
	InputUSStateCodes  = "us_state_codes"
	InputUSCounties    = "us_counties"
)

// SourceError describes a failed retrieval of one input.
type SourceError struct {
	Source   string
	URL      string
	Attempts int
	LastDate time.Time
	Err      error
}

func (e *SourceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %d attempts, last %s (%s): %v",
			e.Source, e.Attempts, e.LastDate.Format(DateLayout), e.URL, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// MalformedError builds an error matching ErrMalformedSource.
func MalformedError(source, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedSource, source, fmt.Sprintf(format, args...))
}

// IntegrityError lists which raw inputs were missing before densification.
type IntegrityError struct {
	Missing []string
	Causes  []error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: missing inputs [%s]", ErrIntegrityViolation, strings.Join(e.Missing, ", "))
}

// Unwrap exposes the sentinel and every underlying fetch failure, so callers
// can still match ErrSourceUnavailable or ErrMalformedSource.
func (e *IntegrityError) Unwrap() []error {
	return append([]error{ErrIntegrityViolation}, e.Causes...)
}

// EntitySynthesisError is a per-entity densification failure. The entity is
// skipped; the run continues.
type EntitySynthesisError struct {
	LongCode string
	Entity   string
	Reason   string
}

func (e EntitySynthesisError) Error() string {
	return fmt.Sprintf("synthesize entity %s (%s): %s", e.LongCode, e.Entity, e.Reason)
}
