package counter

import (
	"context"
	"errors"
)

// Status is the outcome of a fast-path admission attempt.
type Status int

const (
	StatusGranted Status = iota + 1
	StatusAlreadyIssued
	StatusOutOfStock
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusAlreadyIssued:
		return "already_issued"
	case StatusOutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// Admission is a one-shot ticket. A granted slot is never refunded, even when
// the authoritative write that follows fails.
type Admission struct {
	Status Status
	// Rank is the 1-based position of a granted caller.
	Rank int64
}

func (a Admission) Granted() bool { return a.Status == StatusGranted }

var (
	ErrEmptyKey   = errors.New("counter_key_empty")
	ErrInvalidMax = errors.New("counter_max_must_be_positive")
)

// Counter is an advisory admission filter for limited-quantity issuance. It is
// derived state; the versioned store remains the system of record.
type Counter interface {
	// IssueAtomically increments counterKey and records member in membershipKey
	// as one indivisible step. A member already recorded is AlreadyIssued even
	// when the counter is exhausted; a post-increment value above max is rolled
	// back and reported OutOfStock.
	IssueAtomically(ctx context.Context, counterKey, membershipKey, member string, max int64) (Admission, error)
	HasIssued(ctx context.Context, membershipKey, member string) (bool, error)
	// Seed initialises counterKey from the authoritative count if it is unset.
	Seed(ctx context.Context, counterKey string, value int64) error
	Current(ctx context.Context, counterKey string) (int64, error)
}

func validate(counterKey, membershipKey, member string, max int64) error {
	if counterKey == "" || membershipKey == "" || member == "" {
		return ErrEmptyKey
	}
	if max <= 0 {
		return ErrInvalidMax
	}
	return nil
}
