package patrowl

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common findings-manager conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrFindingNotFound indicates the requested finding does not exist.
	ErrFindingNotFound = errors.New("finding not found")

	// ErrRawFindingNotFound indicates the requested raw finding does not exist.
	ErrRawFindingNotFound = errors.New("raw finding not found")

	// ErrScanNotFound indicates the requested scan or scan definition does not exist.
	ErrScanNotFound = errors.New("scan not found")

	// ErrAssetNotFound indicates the requested asset does not exist.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidForm indicates submitted form data failed validation.
	ErrInvalidForm = errors.New("invalid form")

	// ErrUnsupportedEngine indicates an import was requested for a report
	// format no parser understands.
	ErrUnsupportedEngine = errors.New("unsupported engine")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a referenced id does not resolve.
	KindNotFound = "not_found"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindStorage represents failures of the underlying repository.
	KindStorage = "storage"

	// KindQueue represents failures talking to the job queue.
	KindQueue = "queue"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"

	// KindInternal represents unexpected internal errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// the operation that failed and the category of the failure.
//
// Error supports unwrapping, so errors.Is() and errors.As() see through it.
//
// Example usage:
//
//	err := &Error{
//		Op:   "store.GetFinding",
//		Kind: KindNotFound,
//		Err:  ErrFindingNotFound,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "tracker.BuildTimeline").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindValidation).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional),
	// typically the ids involved.
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("patrowl: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("patrowl: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("patrowl: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op when the target sets one),
// then falls back to the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	newErr.Context = merged
	return &newErr
}

// NewNotFoundError creates a new Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewStorageError creates a new Error with KindStorage.
func NewStorageError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStorage, Err: err}
}

// NewQueueError creates a new Error with KindQueue.
func NewQueueError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindQueue, Err: err}
}

// NewConfigurationError creates a new Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. Intended for defer statements.
//
// If logger is nil, slog.Default() is used.
//
//	defer patrowl.CloseWithLog(file, logger, "upload file")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
