package submissions

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrScoringFailed    = errors.New("scoring failed")
	ErrNotConfigured    = errors.New("ledger not configured")
	ErrMintFailed       = errors.New("mint failed")
	ErrNotFound         = errors.New("submission not found")
	ErrConflict         = errors.New("submission already exists")
	ErrAlreadyMinted    = errors.New("submission already minted")
	ErrStoreUnavailable = errors.New("submission store unavailable")
	ErrUnauthorized     = errors.New("operator authorization required")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrBusy             = errors.New("submission is being processed")
)

// ValidationError names the offending input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Missing builds a ValidationError for an absent required field
func Missing(field string) error {
	return &ValidationError{Field: field}
}

// Invalid builds a ValidationError for a malformed field
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ScoringFailure wraps any failure to obtain a score
type ScoringFailure struct {
	Cause error
}

func (e *ScoringFailure) Error() string {
	return fmt.Sprintf("scoring failed: %v", e.Cause)
}

func (e *ScoringFailure) Unwrap() error { return e.Cause }

func (e *ScoringFailure) Is(target error) bool { return target == ErrScoringFailed }

// MintFailure wraps a ledger submission or confirmation failure.
// TxHash is set when the transaction was broadcast but not confirmed.
type MintFailure struct {
	Cause  error
	TxHash string
}

func (e *MintFailure) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("mint failed (tx %s): %v", e.TxHash, e.Cause)
	}
	return fmt.Sprintf("mint failed: %v", e.Cause)
}

func (e *MintFailure) Unwrap() error { return e.Cause }

func (e *MintFailure) Is(target error) bool { return target == ErrMintFailed }
