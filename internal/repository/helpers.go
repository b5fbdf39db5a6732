package repository

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrBadFormat is returned for a submission format other than json or xml.
	ErrBadFormat = errors.New("the format you requested is not supported; use json or xml")
	// ErrNoMatchingSubmissions is returned when a lookup matches nothing.
	ErrNoMatchingSubmissions = errors.New("no submissions match the given ids")
	// ErrNotDeployed is returned for assets without a deployment.
	ErrNotDeployed = errors.New("the asset is not deployed")
)

// toDoc converts a model to a store document through its JSON form.
func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

// fromDoc fills out from a store document.
func fromDoc(doc map[string]any, out any) error {
	delete(doc, "_id")
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal doc: %w", err)
	}
	return nil
}
