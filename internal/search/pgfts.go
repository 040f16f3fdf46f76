package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The expressions below must match the GIN index definitions so the planner
// can use them.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const (
	docVector     = "to_tsvector('english', d.title || ' ' || d.body)"
	commentVector = "to_tsvector('english', c.body)"
)

// Search executes a UNION ALL query across documents and comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := docVector + " @@ " + tsQuery
		if q.FilterMatterID != "" {
			docWhere += fmt.Sprintf(" AND d.matter_id = $%d", argN)
			args = append(args, q.FilterMatterID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', d.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id, d.matter_id,
				ts_rank(%s, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, docVector, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := commentVector + " @@ " + tsQuery
		if q.FilterMatterID != "" {
			commentWhere += fmt.Sprintf(" AND d.matter_id = $%d", argN)
			args = append(args, q.FilterMatterID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, c.author_name AS title,
				ts_headline('english', c.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.document_id, d.matter_id,
				ts_rank(%s, %s) AS rank
			FROM comments c
			JOIN documents d ON d.id = c.document_id
			WHERE %s`, tsQuery, commentVector, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, matter_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.MatterID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, body, matter_id FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.Body, &d.MatterID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.body, c.author_name, c.document_id, d.matter_id
		FROM comments c
		JOIN documents d ON d.id = c.document_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Body, &c.AuthorName, &c.DocumentID, &c.MatterID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return documents, comments, nil
}
