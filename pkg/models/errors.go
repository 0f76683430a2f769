package models

import "errors"

// Error kinds returned by the core. Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalid          = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
)
