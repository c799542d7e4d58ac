package errors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrEmptyKey          = errors.New("empty key")
	ErrInvalidData       = errors.New("invalid data type")
	ErrEntityExists      = errors.New("entity already exists")
	ErrNoParticipants    = errors.New("no participants selected")
	ErrDimensionMismatch = errors.New("mismatched parameter dimensions")
	ErrZeroSamples       = errors.New("total sample count is zero")
)
