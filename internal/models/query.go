package models

import (
	"errors"
	"strings"
)

// ErrEmptyQuery is returned by Validate for blank queries.
var ErrEmptyQuery = errors.New("query cannot be empty")

// SearchQuery is a semantic search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate trims the query, rejects blank input and clamps TopK into [1, maxTopK].
// A zero TopK becomes defaultTopK.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	if q.TopK <= 0 {
		q.TopK = 1
	}
	return nil
}
