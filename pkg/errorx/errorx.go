package errorx

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoActiveTransaction is returned by the scoped client when it is used outside a test transaction.
	ErrNoActiveTransaction = errors.New("no active test transaction")

	// ErrOperationUndefined is returned when neither the transaction handle nor the top-level client provide an operation.
	ErrOperationUndefined = errors.New("operation is not provided by the client")

	// ErrRollbackRequested is the control error used to drive the physical transaction into ROLLBACK.
	ErrRollbackRequested = errors.New("rollback requested")

	// ErrUnknownTxForm is returned when a transaction form is neither a batch nor a callback.
	ErrUnknownTxForm = errors.New("unknown transaction form")

	// ErrNoRows is returned by QueryRow when the query selected nothing.
	ErrNoRows = errors.New("no rows in result set")
)

// GENERAL ERROR:

// GeneralError - General App Error.
type GeneralError struct {
	message string
	err     error
}

// NewGeneralError - GeneralError constructor.
func NewGeneralError(msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewGeneralErrorWrapper - GeneralError constructor for wrapper of another error.
func NewGeneralErrorWrapper(err error, msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ge *GeneralError) Error() string {
	if ge.err != nil {
		return fmt.Errorf("%s # Error wrap: %w", ge.message, ge.err).Error()
	}

	return ge.message
}

// Unwrap - return the wrapped error.
func (ge *GeneralError) Unwrap() error {
	return ge.err
}

// DATABASE ERROR

// DatabaseError - error raised by the database driver adapter.
type DatabaseError struct {
	message string
	err     error
}

// NewDatabaseError - DatabaseError constructor.
func NewDatabaseError(msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewDatabaseErrorWrapper - DatabaseError constructor for wrapper of another error.
func NewDatabaseErrorWrapper(err error, msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ge *DatabaseError) Error() string {
	if ge.err != nil {
		return fmt.Errorf("%s: %w", ge.message, ge.err).Error()
	}

	return ge.message
}

// Unwrap - return the wrapped error.
func (ge *DatabaseError) Unwrap() error {
	return ge.err
}

// CONFIGURATION ERROR

// ConfigurationError - fatal error: the environment cannot provide test isolation.
// It is never retried; callers abort the whole run.
type ConfigurationError struct {
	message string
	err     error
}

// NewConfigurationError - ConfigurationError constructor.
func NewConfigurationError(msg string, args ...any) *ConfigurationError {
	return &ConfigurationError{message: fmt.Sprintf(msg, args...)}
}

// NewConfigurationErrorWrapper - ConfigurationError constructor for wrapper of another error.
func NewConfigurationErrorWrapper(err error, msg string, args ...any) *ConfigurationError {
	return &ConfigurationError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ce *ConfigurationError) Error() string {
	if ce.err != nil {
		return fmt.Errorf("configuration error: %s: %w", ce.message, ce.err).Error()
	}

	return "configuration error: " + ce.message
}

// Unwrap - return the wrapped error.
func (ce *ConfigurationError) Unwrap() error {
	return ce.err
}

// UNSUPPORTED OPERATION ERROR

// UnsupportedOperationError - the top-level client provides Operation but it is blocked
// inside the test transaction, because forwarding it would escape the transaction.
type UnsupportedOperationError struct {
	Operation string
}

// NewUnsupportedOperationError - UnsupportedOperationError constructor.
func NewUnsupportedOperationError(operation string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Operation: operation}
}

// Error - return the error string.
func (ue *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation %q in transactional scope: use the original client outside of tests", ue.Operation)
}

// TRANSACTION TIMEOUT ERROR

// TimeoutPhase tells which limit of the physical transaction was exceeded.
type TimeoutPhase string

const (
	// PhaseMaxWait - the transaction slot could not be acquired in time.
	PhaseMaxWait TimeoutPhase = "max-wait"
	// PhaseTimeout - the transaction body ran longer than allowed.
	PhaseTimeout TimeoutPhase = "timeout"
)

// TransactionTimeoutError - a physical transaction exceeded one of its time limits.
type TransactionTimeoutError struct {
	Phase TimeoutPhase
	Limit time.Duration
	err   error
}

// NewTransactionTimeoutError - TransactionTimeoutError constructor.
func NewTransactionTimeoutError(phase TimeoutPhase, limit time.Duration, err error) *TransactionTimeoutError {
	return &TransactionTimeoutError{Phase: phase, Limit: limit, err: err}
}

// Error - return the error string.
func (te *TransactionTimeoutError) Error() string {
	msg := fmt.Sprintf("transaction %s of %s exceeded", te.Phase, te.Limit)
	if te.err != nil {
		return fmt.Errorf("%s: %w", msg, te.err).Error()
	}

	return msg
}

// Unwrap - return the wrapped error.
func (te *TransactionTimeoutError) Unwrap() error {
	return te.err
}

// INVALID STATE ERROR

// InvalidStateError - a lifecycle event arrived while the environment was in a state that cannot accept it.
type InvalidStateError struct {
	State string
	Event string
}

// NewInvalidStateError - InvalidStateError constructor.
func NewInvalidStateError(state fmt.Stringer, event string) *InvalidStateError {
	return &InvalidStateError{State: state.String(), Event: event}
}

// Error - return the error string.
func (ie *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot handle %s while %s", ie.Event, ie.State)
}
