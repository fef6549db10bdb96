package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidOutput = errors.New("invalid provider output")
)
