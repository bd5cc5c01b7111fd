package terminology

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// maxResults caps a combined search result the way the typeahead renders
// it.
const maxResults = 10

// minQueryLength keeps the reference index from being scanned on one or
// two keystrokes.
const minQueryLength = 3

// Service runs ICD-10 searches for the add-code typeahead. Every query is
// matched both as a code prefix and against descriptions; the combined
// result is deduplicated with code matches first.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

// NewService creates a terminology service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "terminology").Logger()}
}

// Search returns up to ten ICD-10 codes matching the query by code or
// description. Queries shorter than three characters are rejected before
// touching the repository.
func (s *Service) Search(ctx context.Context, query string) ([]ICDCode, error) {
	query = strings.TrimSpace(query)
	if len(query) < minQueryLength {
		return nil, ErrQueryTooShort
	}

	byCode, err := s.repo.Search(ctx, query, ModeCode, maxResults)
	if err != nil {
		return nil, err
	}
	byDescription, err := s.repo.Search(ctx, query, ModeDescription, maxResults)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, maxResults)
	combined := make([]ICDCode, 0, maxResults)
	for _, c := range append(byCode, byDescription...) {
		if _, dup := seen[c.Code]; dup {
			continue
		}
		seen[c.Code] = struct{}{}
		combined = append(combined, c)
		if len(combined) == maxResults {
			break
		}
	}
	return combined, nil
}
