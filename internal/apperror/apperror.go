package apperror

import "errors"

// Kind classifies failures so callers can decide whether resubmitting helps.
type Kind string

const (
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindVersionConflict     Kind = "version_conflict"
	KindOutOfStock          Kind = "out_of_stock"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindAlreadyIssued       Kind = "already_issued"
	KindCouponExpired       Kind = "coupon_expired"
	KindNotFound            Kind = "resource_not_found"
	KindBusinessRule        Kind = "business_rule"
	KindInvalidArgument     Kind = "invalid_argument"
	KindRateLimited         Kind = "rate_limited"
	KindInternal            Kind = "internal"
)

// Error is a classified failure with a stable client-facing code.
// Values are used as sentinels, compare them with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Retryable reports whether the same request may succeed if resubmitted.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConcurrencyConflict, KindVersionConflict, KindRateLimited:
		return true
	default:
		return false
	}
}

var (
	ErrConcurrencyConflict = New(KindConcurrencyConflict, "E503", "concurrency_conflict")
	ErrLockNotAcquired     = New(KindConcurrencyConflict, "E504", "lock_acquisition_failed")
	ErrVersionConflict     = New(KindVersionConflict, "E505", "version_conflict")
	ErrInternal            = New(KindInternal, "E500", "internal_error")
	ErrRateLimited         = New(KindRateLimited, "E429", "too_many_requests")
)

// From extracts the classified error from err's chain.
func From(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	if appErr, ok := From(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
