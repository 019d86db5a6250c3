// Package services defines the business logic for story runs, generation
// gating, statistics, and user profiles. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

// Story-related errors.
var (
	// ErrRunNotFound indicates that the requested story run does not exist
	// or is not accessible to the current user.
	ErrRunNotFound = errors.New("story not found")

	// ErrStepNotFound indicates that the requested step does not exist.
	ErrStepNotFound = errors.New("step not found")

	// ErrRunEnded is returned when a choice is submitted to a run that has
	// already reached an ending.
	ErrRunEnded = errors.New("story has ended")

	// ErrInvalidChoice is returned when the submitted slug is not among the
	// choices offered by the run's latest step.
	ErrInvalidChoice = errors.New("choice not offered by the current step")

	// ErrInvalidGenre is returned when the requested genre is unknown.
	ErrInvalidGenre = errors.New("unknown genre")

	// ErrInvalidLength is returned when the requested length is unknown.
	ErrInvalidLength = errors.New("unknown length")

	// ErrInvalidChallenge is returned when the requested challenge level is
	// unknown.
	ErrInvalidChallenge = errors.New("unknown challenge")

	// ErrInvalidTier is returned when a subscription update names a tier
	// that cannot be stored.
	ErrInvalidTier = errors.New("unknown subscription tier")

	// ErrGenerationFailed is returned when the content producer could not
	// deliver a valid story step within the retry budget.
	ErrGenerationFailed = errors.New("story generation failed")
)

// QuotaExceededError is returned when the caller has used up their daily
// generation allowance. It carries the limit and the UTC instant at which
// the counter resets so handlers can emit rate-limit headers.
type QuotaExceededError struct {
	Limit     int
	ResetTime time.Time
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily limit of %d stories reached", e.Limit)
}

// PremiumRequiredError is returned when a requested feature is reserved
// for premium subscribers. Feature names the gated option ("genre" or
// "length"); Value is what the caller asked for.
type PremiumRequiredError struct {
	Feature string
	Value   string
}

// Error implements the error interface.
func (e *PremiumRequiredError) Error() string {
	return fmt.Sprintf("%s %q requires a premium subscription", e.Feature, e.Value)
}
