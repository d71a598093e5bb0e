// Package store provides the document-store read used to fetch contextual
// records for the question endpoint. Reviews live in Postgres; callers treat
// an empty result as "no usable context", not a failure.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Review is one app review record.
type Review struct {
	ID        int64
	Author    string
	Rating    int
	Text      string
	CreatedAt time.Time
}

// String renders the review as one context line for prompt assembly.
func (r Review) String() string {
	author := strings.TrimSpace(r.Author)
	if author == "" {
		author = "anonymous"
	}
	return fmt.Sprintf("[%d/5] %s: %s", r.Rating, author, strings.TrimSpace(r.Text))
}

// Postgres reads reviews from a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// SearchReviews returns up to limit reviews matching the query, most recent
// first. A blank query returns the most recent reviews unfiltered.
func (p *Postgres) SearchReviews(ctx context.Context, query string, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 5
	}

	const base = `
		SELECT id, author, rating, body, created_at
		FROM reviews
		WHERE ($1 = '' OR body ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := p.pool.Query(ctx, base, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.Author, &r.Rating, &r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reviews: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
