package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/checkout/internal/apperror"
	"github.com/smallbiznis/checkout/internal/events"
	"github.com/smallbiznis/checkout/internal/invalidation"
)

type outcomeKind int

const (
	outcomeOk outcomeKind = iota + 1
	outcomeRejected
	outcomeConflict
)

// Hook runs after commit. Its error is logged, never returned to the caller.
type Hook func(ctx context.Context) error

// Outcome is what business logic decides inside the transaction.
//
//   - Ok commits and carries the post-commit work.
//   - Rejected rolls back and returns the reason to the caller unchanged.
//   - Conflict rolls back and lets the retry executor run the logic again.
type Outcome[T any] struct {
	kind      outcomeKind
	value     T
	err       error
	mutations []invalidation.Mutation
	events    []events.Event
	hooks     []Hook
}

func Ok[T any](value T) Outcome[T] {
	return Outcome[T]{kind: outcomeOk, value: value}
}

func Rejected[T any](reason error) Outcome[T] {
	return Outcome[T]{kind: outcomeRejected, err: reason}
}

// Conflict marks the attempt as having lost a version race. The error is
// wrapped with apperror.ErrVersionConflict if it is not already.
func Conflict[T any](err error) Outcome[T] {
	if err == nil {
		err = apperror.ErrVersionConflict
	}
	return Outcome[T]{kind: outcomeConflict, err: err}
}

// Invalidate adds cache mutations applied after commit.
func (o Outcome[T]) Invalidate(m ...invalidation.Mutation) Outcome[T] {
	o.mutations = append(o.mutations, m...)
	return o
}

// Emit adds events written to the outbox in the same transaction.
func (o Outcome[T]) Emit(e ...events.Event) Outcome[T] {
	o.events = append(o.events, e...)
	return o
}

func (o Outcome[T]) AfterCommit(h ...Hook) Outcome[T] {
	o.hooks = append(o.hooks, h...)
	return o
}

func (o Outcome[T]) Value() T { return o.value }

func (o Outcome[T]) IsOk() bool { return o.kind == outcomeOk }

// rejection carries a Rejected reason out of the transaction callback.
type rejection struct {
	reason error
}

func (r rejection) Error() string { return fmt.Sprintf("rejected: %v", r.reason) }
func (r rejection) Unwrap() error { return r.reason }

// Fail sorts a failure from a repository or domain call into an outcome: a
// version conflict becomes Conflict, a classified business error becomes
// Rejected and anything else is returned as an unexpected error.
func Fail[T any](err error) (Outcome[T], error) {
	if errors.Is(err, apperror.ErrVersionConflict) {
		return Conflict[T](err), nil
	}
	switch apperror.KindOf(err) {
	case apperror.KindInternal, apperror.KindConcurrencyConflict:
		return Outcome[T]{}, err
	default:
		return Rejected[T](err), nil
	}
}
