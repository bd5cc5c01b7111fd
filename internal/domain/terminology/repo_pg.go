package terminology

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type icdRepoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a repository backed by the local reference_icd10 table.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &icdRepoPG{pool: pool} }

func (r *icdRepoPG) Search(ctx context.Context, query string, mode SearchMode, limit int) ([]ICDCode, error) {
	if limit <= 0 {
		limit = 10
	}

	var where string
	var pattern string
	switch mode {
	case ModeCode:
		// Codes match by prefix the way coders type them.
		where = "code ILIKE $1"
		pattern = query + "%"
	default:
		where = "display ILIKE $1"
		pattern = "%" + query + "%"
	}

	rows, err := r.pool.Query(ctx,
		`SELECT code, display FROM reference_icd10 WHERE `+where+` ORDER BY code LIMIT $2`,
		pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("icd10 search: %w", err)
	}
	defer rows.Close()

	var results []ICDCode
	for rows.Next() {
		var c ICDCode
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
