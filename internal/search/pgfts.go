package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements the search backend using PostgreSQL full-text search.
// It queries the same documents table the store writes to, so it never
// lags behind the way an external index can.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a full-text query over documents the viewer may see:
// public documents plus anything they author or collaborate on.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int64, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	where := "d.fts @@ plainto_tsquery('english', $1) AND NOT d.is_deleted"
	args := []any{q.Text}
	if q.ViewerID == "" {
		where += " AND d.privacy = 'public'"
	} else {
		where += " AND (d.privacy = 'public' OR d.author_id = $2 OR d.permissions ? $2)"
		args = append(args, q.ViewerID)
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM documents d WHERE %s", where)
	var total int64
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', d.content, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			d.status, d.privacy
		FROM documents d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d`, where, limit)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.Privacy); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every live document from Postgres in the shape the
// Meilisearch index expects. Used when reindexing after Meilisearch recovers.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, status, privacy, tags, author_id, permissions, updated_at
		FROM documents
		WHERE NOT is_deleted`)
	if err != nil {
		return nil, fmt.Errorf("pgfts load records: %w", err)
	}
	defer rows.Close()

	var records []DocumentRecord
	for rows.Next() {
		var (
			rec             DocumentRecord
			tagsJSON        []byte
			permissionsJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Status, &rec.Privacy,
			&tagsJSON, &rec.AuthorID, &permissionsJSON, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgfts scan record: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			return nil, fmt.Errorf("pgfts decode tags for %s: %w", rec.ID, err)
		}
		var permissions map[string]json.RawMessage
		if err := json.Unmarshal(permissionsJSON, &permissions); err != nil {
			return nil, fmt.Errorf("pgfts decode permissions for %s: %w", rec.ID, err)
		}
		rec.AllowedUserIDs = append(rec.AllowedUserIDs, rec.AuthorID)
		for userID := range permissions {
			rec.AllowedUserIDs = append(rec.AllowedUserIDs, userID)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
