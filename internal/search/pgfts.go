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

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// itemSources maps each result type to the rows it searches.
var itemSources = map[ResultType]string{
	ResultRoadmap: `SELECT 'roadmap'::text AS kind, r.id, r.id AS roadmap_id, r.name AS title, r.description FROM roadmaps r`,
	ResultEpic:    `SELECT 'epic'::text, e.id, e.roadmap_id, e.title, e.description FROM epics e`,
	ResultFeature: `SELECT 'feature'::text, f.id, f.roadmap_id, f.title, f.description FROM features f`,
	ResultTask: `SELECT 'task'::text, t.id, f.roadmap_id, t.title, t.description
		FROM tasks t JOIN features f ON f.id = t.feature_id`,
}

// Search ranks items with plainto_tsquery and ts_rank over title and
// description, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.RoadmapIDs) == 0 {
		return nil, 0, nil
	}

	var sources []string
	for _, typ := range resultTypes {
		if q.FilterType != "" && q.FilterType != typ {
			continue
		}
		sources = append(sources, itemSources[typ])
	}
	if len(sources) == 0 {
		return nil, 0, nil
	}

	with := fmt.Sprintf(`
		WITH items AS (%s),
		q AS (SELECT plainto_tsquery('english', $1) AS query),
		matched AS (
			SELECT items.*, to_tsvector('english', items.title || ' ' || coalesce(items.description, '')) AS doc
			FROM items
			WHERE items.roadmap_id = ANY($2)
		)`, strings.Join(sources, " UNION ALL "))

	countSQL := with + `
		SELECT count(*) FROM matched m, q WHERE m.doc @@ q.query`

	dataSQL := with + fmt.Sprintf(`
		SELECT m.kind, m.id, m.roadmap_id, m.title,
			ts_headline('english', coalesce(m.description, ''), q.query, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM matched m, q
		WHERE m.doc @@ q.query
		ORDER BY ts_rank(m.doc, q.query) DESC, m.id
		LIMIT %d OFFSET %d`, q.limit(), q.offset())

	args := []any{q.Text, q.RoadmapIDs}

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
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.RoadmapID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(kind)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllItems returns every searchable item for full reindexing.
func (p *PgFTS) LoadAllItems(ctx context.Context) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT 'roadmap', id, id, name, description, status FROM roadmaps
		UNION ALL
		SELECT 'epic', id, roadmap_id, title, description, status FROM epics
		UNION ALL
		SELECT 'feature', id, roadmap_id, title, description, status FROM features
		UNION ALL
		SELECT 'task', t.id, f.roadmap_id, t.title, t.description, t.status
		FROM tasks t JOIN features f ON f.id = t.feature_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	items := make([]ItemRecord, 0)
	for rows.Next() {
		var item ItemRecord
		var kind string
		if err := rows.Scan(&kind, &item.ID, &item.RoadmapID, &item.Title, &item.Description, &item.Status); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Kind = ResultType(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}
