package streamstate

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrItemNotFound      = errors.New("item not found")
	ErrInvalidOutputPath = errors.New("invalid output path")
)
