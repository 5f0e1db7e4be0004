package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const agentFTS = `to_tsvector('english', a.name || ' ' || a.agency || ' ' || a.lines || ' ' || a.city || ' ' || a.bio)`

// Search runs plainto_tsquery against the agents table with ts_rank ordering
// and ts_headline snippets from the bio.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" && q.State == "" && q.City == "" && q.Line == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{q.Text}
	argN := 2
	where := "TRUE"
	if strings.TrimSpace(q.Text) != "" {
		where = agentFTS + " @@ plainto_tsquery('english', $1)"
	}
	if q.State != "" {
		where += fmt.Sprintf(" AND UPPER(a.state) = UPPER($%d)", argN)
		args = append(args, q.State)
		argN++
	}
	if q.City != "" {
		where += fmt.Sprintf(" AND LOWER(a.city) = LOWER($%d)", argN)
		args = append(args, q.City)
		argN++
	}
	if q.Line != "" {
		where += fmt.Sprintf(" AND a.lines ILIKE '%%' || $%d || '%%'", argN)
		args = append(args, q.Line)
		argN++
	}

	countSQL := fmt.Sprintf(`SELECT count(*) FROM agents a WHERE %s`, where)

	dataSQL := fmt.Sprintf(`
		SELECT a.id, a.name, a.agency, a.lines, a.city, a.state,
			ts_headline('english', coalesce(a.bio, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(%s, plainto_tsquery('english', $1)) AS rank
		FROM agents a
		WHERE %s
		ORDER BY rank DESC, a.name
		LIMIT %d OFFSET %d`, agentFTS, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.Name, &r.Agency, &r.Lines, &r.City, &r.State, &r.Snippet, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every agent for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AgentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, agency, lines, city, state, bio FROM agents
	`)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	defer rows.Close()

	agents := make([]AgentRecord, 0)
	for rows.Next() {
		var a AgentRecord
		if err := rows.Scan(&a.ID, &a.Name, &a.Agency, &a.Lines, &a.City, &a.State, &a.Bio); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}
