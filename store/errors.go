package store

import "fmt"

// InitializationError means the local database could not be brought up.
// Once returned, every later call on the same Store returns it again.
type InitializationError struct {
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("offline store %s unavailable: %v", e.Path, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TransactionError wraps a failed read, write or delete.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("offline store %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func txError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransactionError{Op: op, Err: err}
}
