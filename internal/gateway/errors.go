package gateway

import (
	"errors"
	"fmt"
)

// ErrUnsupportedMethod is returned by Call for verbs without an expected
// success status.
var ErrUnsupportedMethod = errors.New("kobocat: method not supported")

// TransportError is returned when the remote service cannot be reached.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kobocat: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is returned for a response that cannot be interpreted: an
// unparseable body, or a failure the remote gave no reason for.
type ProtocolError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("KoBoCAT returned an unexpected response: %v", e.Err)
	}
	return fmt.Sprintf("Unexpected KoBoCAT error %d: %s", e.Status, e.Body)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SemanticError is returned when the remote refused a request and said why.
type SemanticError struct {
	Status int
	Reason string
}

func (e *SemanticError) Error() string { return e.Reason }
