package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRenderFailure = errors.New("render failure")
	ErrWriteFailure  = errors.New("write failure")
)
