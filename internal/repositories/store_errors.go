package repositories

import "fmt"

// StoreErrorKind classifies failures raised by in-process stores.
type StoreErrorKind string

const (
	StoreErrorNotFound    StoreErrorKind = "not_found"
	StoreErrorConflict    StoreErrorKind = "conflict"
	StoreErrorUnavailable StoreErrorKind = "unavailable"
)

// StoreError is the RepositoryError used by stores that are not backed by Firestore.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

// NewStoreError constructs a typed store error.
func NewStoreError(op string, kind StoreErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	detail := string(e.Kind)
	if e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, detail)
	}
	return detail
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }
