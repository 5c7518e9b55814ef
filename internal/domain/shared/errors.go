// Package shared holds the error kinds and domain events every ledger
// package agrees on. It imports nothing outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is or the Is* helpers below;
// the concrete *DomainError values carry the message.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrInvalidArgument = errors.New("invalid argument")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")

	ErrConflictSkipped     = errors.New("conflict skipped")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOutOfStock          = errors.New("out of stock")

	// Only these two are worth retrying.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError is a kind plus the place it was raised, e.g.
// "ledger.Validate: amount must be positive".
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap prefers the cause over the kind; Is checks both.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError is NewDomainError with an underlying cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	e := NewDomainError(domain, op, kind, message)
	e.Err = err
	return e
}

// Errorf builds a one-off domain error with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

var (
	ErrClassNotFound      = NewDomainError("classroom", "Find", ErrNotFound, "class not found")
	ErrClassAlreadyExists = NewDomainError("classroom", "Create", ErrAlreadyExists, "class already exists")
	ErrInvalidClassID     = NewDomainError("classroom", "Validate", ErrInvalidArgument, "class id is required")
)

// Student domain errors
var (
	ErrStudentNotFound       = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentNumberTaken    = NewDomainError("student", "Save", ErrAlreadyExists, "student number already in use")
	ErrInvalidStudentNumber  = NewDomainError("student", "Validate", ErrInvalidArgument, "student number must be positive")
	ErrInvalidStudentName    = NewDomainError("student", "Validate", ErrInvalidArgument, "student name must be 1-100 chars")
	ErrInvalidStudentBalance = NewDomainError("student", "Validate", ErrNegativeValue, "balances cannot be negative")
	ErrStudentBalanceTooBig  = NewDomainError("student", "Validate", ErrInvalidArgument, "balances sum past the largest total")
)

// Ledger domain errors
var (
	ErrInvalidCategory  = NewDomainError("ledger", "Validate", ErrInvalidArgument, "unknown point category")
	ErrInvalidDirection = NewDomainError("ledger", "Validate", ErrInvalidArgument, "direction must be credit or debit")
	ErrInvalidAmount    = NewDomainError("ledger", "Validate", ErrInvalidArgument, "amount must be positive")
	ErrMissingOperator  = NewDomainError("ledger", "Validate", ErrInvalidArgument, "operator is required")
	ErrPointsOverflow   = NewDomainError("ledger", "Adjust", ErrInvalidArgument, "credit would overflow the balance")
	ErrCurrencyShort    = NewDomainError("ledger", "DebitCurrency", ErrInsufficientBalance, "not enough exchange credit")
)

// Import errors
var (
	ErrInvalidConflictPolicy = NewDomainError("import", "Validate", ErrInvalidArgument, "unknown conflict policy")
	ErrRowSkipped            = NewDomainError("import", "Apply", ErrConflictSkipped, "student number already present")
)

// Sampler errors
var (
	ErrNoEligibleStudents = NewDomainError("sampler", "Draw", ErrInvalidArgument, "no eligible students")
	ErrInvalidDrawCount   = NewDomainError("sampler", "Draw", ErrInvalidArgument, "count must be at least 1")
)

// Reward domain errors
var (
	ErrRewardNotFound   = NewDomainError("reward", "Find", ErrNotFound, "reward not found")
	ErrRewardOutOfStock = NewDomainError("reward", "Redeem", ErrOutOfStock, "reward out of stock")
	ErrInvalidReward    = NewDomainError("reward", "Validate", ErrInvalidArgument, "reward needs a name, a positive cost and non-negative stock")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsConflictSkipped reports an import row left alone by the skip policy.
func IsConflictSkipped(err error) bool { return errors.Is(err, ErrConflictSkipped) }

// IsInvalidArgument reports any validation failure.
func IsInvalidArgument(err error) bool {
	for _, kind := range []error{ErrInvalidArgument, ErrEmptyValue, ErrNegativeValue} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsRetryable reports failures a storage retry can clear.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrTimeout)
}
