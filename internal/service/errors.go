package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSubmissionXML is returned when a stored submission lacks
	// its meta/instanceID element or cannot be parsed at all.
	ErrMalformedSubmissionXML = errors.New("submission XML is malformed: meta/instanceID not found")
	// ErrDuplicationFailed is returned when the remote service does not
	// create the duplicated submission.
	ErrDuplicationFailed = errors.New("an error occurred while duplicating the submission")
)

// BulkPayloadError rejects a bulk update request before anything is sent.
type BulkPayloadError struct {
	Reason string
}

func (e *BulkPayloadError) Error() string { return e.Reason }

// ValidationError reports a bad list parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
