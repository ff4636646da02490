package types

import "errors"

var (
	// ErrTransport covers timeouts, refused connections and non-200 responses
	ErrTransport = errors.New("transport error")
	// ErrParse covers malformed upstream bodies
	ErrParse = errors.New("parse error")
	// ErrSuperseded marks a refresh result discarded by the generation gate
	ErrSuperseded = errors.New("refresh superseded")
	// ErrDisabled is returned when an operation is attempted while disabled
	ErrDisabled = errors.New("disabled")
)
