package ingest

import "errors"

var (
	ErrInvalidType        = errors.New("invalid connection type")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrAdapterOpen        = errors.New("adapter open failed")
	ErrNotFound           = errors.New("connection not found")
	ErrWrongType          = errors.New("wrong connection type")
	ErrDriver             = errors.New("driver error")
	ErrFetch              = errors.New("fetch failed")
	ErrBadInput           = errors.New("invalid input")
)
