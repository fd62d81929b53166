package docstore

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by this module matches exactly one of them with errors.Is.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidState         = errors.New("invalid state")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrOperationFailed      = errors.New("operation failed")
)

var (
	ErrNilClientConfig        = fmt.Errorf("%w: nil client config supplied", ErrInvalidArgument)
	ErrEmptyClientFingerprint = fmt.Errorf("%w: client config has an empty fingerprint", ErrInvalidArgument)
	ErrEmptyDatabaseName      = fmt.Errorf("%w: empty database name supplied", ErrInvalidArgument)
	ErrEmptyContextID         = fmt.Errorf("%w: empty context id supplied", ErrInvalidArgument)
	ErrNilContextOptions      = fmt.Errorf("%w: nil context options supplied", ErrInvalidArgument)
	ErrEmptyCollectionName    = fmt.Errorf("%w: empty collection name supplied", ErrInvalidArgument)
	ErrNilEntity              = fmt.Errorf("%w: nil entity supplied", ErrInvalidArgument)
	ErrEmptyDocumentID        = fmt.Errorf("%w: empty document id supplied", ErrInvalidArgument)
	ErrInvalidDocumentJSON    = fmt.Errorf("%w: document body is not valid json", ErrInvalidArgument)
	ErrEmptyFilter            = fmt.Errorf("%w: empty filter supplied", ErrInvalidArgument)
	ErrNilDatabaseConnection  = fmt.Errorf("%w: nil database connection supplied", ErrInvalidArgument)
	ErrNilDriver              = fmt.Errorf("%w: nil driver supplied", ErrInvalidArgument)
	ErrNilResourceManager     = fmt.Errorf("%w: nil resource manager supplied", ErrInvalidArgument)
	ErrNilConnection          = fmt.Errorf("%w: nil connection supplied", ErrInvalidArgument)
	ErrEmptyFieldName         = fmt.Errorf("%w: empty field name supplied", ErrInvalidArgument)
	ErrEmptyRegistryKey       = fmt.Errorf("%w: empty registry key supplied", ErrInvalidArgument)
	ErrEmptyClusterAddresses  = fmt.Errorf("%w: client config has no server addresses", ErrInvalidArgument)
)

var (
	ErrNoActiveSession        = fmt.Errorf("%w: no active session", ErrInvalidState)
	ErrNoActiveTransaction    = fmt.Errorf("%w: no active transaction", ErrInvalidState)
	ErrTransactionInProgress  = fmt.Errorf("%w: transaction already in progress", ErrInvalidState)
	ErrSessionEnded           = fmt.Errorf("%w: session already ended", ErrInvalidState)
	ErrContextClosed          = fmt.Errorf("%w: context already closed", ErrInvalidState)
	ErrNotDeferred            = fmt.Errorf("%w: commands are only buffered in deferred mode", ErrInvalidState)
	ErrUnsupportedCommand     = fmt.Errorf("%w: unrecognized command shape", ErrUnsupportedOperation)
	ErrUnsupportedAdapterType = fmt.Errorf("%w: unsupported adapter type", ErrUnsupportedOperation)
	ErrRepositoryNotFound     = fmt.Errorf("%w: no repository implementation found", ErrUnsupportedOperation)
)

var (
	ErrDocumentNotFound  = fmt.Errorf("%w: document not found", ErrOperationFailed)
	ErrDuplicateDocument = fmt.Errorf("%w: document with this id already exists", ErrOperationFailed)
)

// OperationFailed joins a driver-level failure with ErrOperationFailed.
// Errors that already belong to one of the error classes are returned as is.
// The original cause stays reachable with errors.Is and errors.As.
func OperationFailed(cause error) error {
	if cause == nil {
		return nil
	}

	for _, class := range []error{ErrInvalidArgument, ErrInvalidState, ErrUnsupportedOperation, ErrOperationFailed} {
		if errors.Is(cause, class) {
			return cause
		}
	}

	return errors.Join(ErrOperationFailed, cause)
}
