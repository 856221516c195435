package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	CodeExtractionFailure    = "EXTRACTION_FAILURE"
	CodeAllWitnessesFailed   = "ALL_WITNESSES_FAILED"
	CodeCorruptInput         = "CORRUPT_INPUT"
	CodeCheckpointCorruption = "CHECKPOINT_CORRUPTION"
	CodeConfig               = "CONFIG_ERROR"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("concurrent modification")

	// Failure taxonomy of an arbitration run.
	ErrExtractionFailure    = errors.New("extraction failure")
	ErrAllWitnessesFailed   = errors.New("all witnesses failed")
	ErrCorruptInput         = errors.New("corrupt input")
	ErrCheckpointCorruption = errors.New("checkpoint corruption")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ExtractionFailure is a witness-level failure. It is absorbed by the engine and recorded
// against the witness; Retryable failures (timeouts, quota) may be retried by the adapter.
type ExtractionFailure struct {
	Witness   constants.WitnessID
	Retryable bool
	Err       error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("%s: witness %s: %v", CodeExtractionFailure, e.Witness, e.Err)
}

func (e *ExtractionFailure) Unwrap() []error {
	return []error{ErrExtractionFailure, e.Err}
}

func NewExtractionFailure(w constants.WitnessID, retryable bool, err error) *ExtractionFailure {
	return &ExtractionFailure{Witness: w, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is an ExtractionFailure worth another attempt.
func IsRetryable(err error) bool {
	var ef *ExtractionFailure
	return errors.As(err, &ef) && ef.Retryable
}

func CorruptInputError(message string, cause error) *AppError {
	return NewAppError(CodeCorruptInput, message, errors.Join(ErrCorruptInput, cause))
}

func CheckpointCorruptionError(key, message string, cause error) *AppError {
	msg := fmt.Sprintf("doc %q: %s", key, message)
	if cause == nil {
		return NewAppError(CodeCheckpointCorruption, msg, ErrCheckpointCorruption)
	}
	return NewAppError(CodeCheckpointCorruption, msg, errors.Join(ErrCheckpointCorruption, cause))
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// StatusFromError maps the failure taxonomy onto gRPC codes.
func StatusFromError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrCorruptInput):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrCheckpointCorruption):
		return status.Error(codes.DataLoss, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
