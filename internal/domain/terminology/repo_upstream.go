package terminology

import (
	"context"

	"github.com/icdreview/icdreview/internal/platform/auth"
	"github.com/icdreview/icdreview/internal/platform/backend"
)

// Searcher is the slice of the upstream client the fallback repository
// needs.
type Searcher interface {
	SearchICD(ctx context.Context, token, query, key string) ([]backend.ICDEntry, error)
}

type icdRepoUpstream struct{ searcher Searcher }

// NewRepoUpstream creates a repository that proxies searches to the
// upstream coding service. Used when no local reference table is
// configured. The caller's upstream token is taken from the request
// context.
func NewRepoUpstream(searcher Searcher) Repository { return &icdRepoUpstream{searcher: searcher} }

func (r *icdRepoUpstream) Search(ctx context.Context, query string, mode SearchMode, limit int) ([]ICDCode, error) {
	entries, err := r.searcher.SearchICD(ctx, auth.UpstreamTokenFromContext(ctx), query, string(mode))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]ICDCode, len(entries))
	for i, e := range entries {
		out[i] = ICDCode{Code: e.Code, Description: e.Description}
	}
	return out, nil
}
