package models

// Submission is one submission as stored in the document store, keyed by
// its readable (decoded) field names.
type Submission map[string]any

// SubmissionList is a paginated list response.
type SubmissionList struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}
