package terminology

import "context"

// Repository provides access to ICD-10-CM reference codes.
type Repository interface {
	Search(ctx context.Context, query string, mode SearchMode, limit int) ([]ICDCode, error)
}
