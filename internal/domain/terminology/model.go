// Package terminology provides ICD-10-CM code search for the add-code
// typeahead.
package terminology

import "errors"

// ICDCode is one ICD-10-CM reference entry.
type ICDCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// SearchMode selects which field a query matches against.
type SearchMode string

const (
	ModeCode        SearchMode = "Code"
	ModeDescription SearchMode = "Description"
)

// ErrQueryTooShort reports a search query below the minimum length.
var ErrQueryTooShort = errors.New("search query must be at least 3 characters")
