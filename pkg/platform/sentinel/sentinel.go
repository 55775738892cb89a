// Package sentinel holds the infrastructure errors returned by stores.
//
// Stores return these (optionally wrapped with fmt.Errorf("...: %w")) and services
// translate them into pkg/domain-errors codes. They describe facts about stored
// state, not request validation:
//   - ErrNotFound: no matching row or key
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrInvalidState: the row is in a state the operation does not accept
//   - ErrUnavailable: the backing service could not be reached in time
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
