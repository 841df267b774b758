package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"prdigy/api/internal/migration"
	"prdigy/api/internal/roadmap"
	"prdigy/api/internal/util"
)

var (
	_ roadmap.Gateway   = (*PostgresStore)(nil)
	_ migration.Gateway = (*PostgresStore)(nil)
)

// siblingScope names the table holding one kind of ordered child and the
// parent it is ordered under.
type siblingScope struct {
	table       string
	parentTable string
	parentCol   string
}

var (
	milestoneSiblings = siblingScope{table: "milestones", parentTable: "roadmaps", parentCol: "roadmap_id"}
	epicSiblings      = siblingScope{table: "epics", parentTable: "roadmaps", parentCol: "roadmap_id"}
	featureSiblings   = siblingScope{table: "features", parentTable: "epics", parentCol: "epic_id"}
	taskSiblings      = siblingScope{table: "tasks", parentTable: "features", parentCol: "feature_id"}
)

// lockParent takes a row lock on the parent so inserts and deletes in one
// sibling set run one at a time.
func (sc siblingScope) lockParent(ctx context.Context, tx *sql.Tx, parentID string) error {
	var id string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id=$1 FOR UPDATE`, sc.parentTable), parentID).Scan(&id)
	if err != nil {
		return fmt.Errorf("lock %s %s: %w", sc.parentTable, parentID, err)
	}
	return nil
}

// claim picks the position for a new child and opens a slot for it. A nil or
// out-of-range request appends.
func (sc siblingScope) claim(ctx context.Context, tx *sql.Tx, parentID string, requested *int) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s=$1`, sc.table, sc.parentCol), parentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", sc.table, err)
	}
	pos := count
	if requested != nil && *requested < count {
		pos = max(*requested, 0)
	}
	if pos < count {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET position = position + 1 WHERE %s=$1 AND position >= $2`, sc.table, sc.parentCol), parentID, pos); err != nil {
			return 0, fmt.Errorf("shift %s: %w", sc.table, err)
		}
	}
	return pos, nil
}

// remove deletes a child and closes the gap it leaves.
func (sc siblingScope) remove(ctx context.Context, tx *sql.Tx, id string) error {
	var parentID string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, sc.parentCol, sc.table), id).Scan(&parentID)
	if err != nil {
		return fmt.Errorf("find %s %s: %w", sc.table, id, err)
	}
	if err := sc.lockParent(ctx, tx, parentID); err != nil {
		return err
	}
	var pos int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1 RETURNING position`, sc.table), id).Scan(&pos)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", sc.table, id, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET position = position - 1 WHERE %s=$1 AND position > $2`, sc.table, sc.parentCol), parentID, pos); err != nil {
		return fmt.Errorf("compact %s: %w", sc.table, err)
	}
	return nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

const roadmapColumns = `id, owner_id, name, description, status, project_id, metadata, created_at, updated_at`

func scanRoadmap(row interface{ Scan(...any) error }) (roadmap.Roadmap, error) {
	var rm roadmap.Roadmap
	var projectID sql.NullString
	var metadata []byte
	if err := row.Scan(&rm.ID, &rm.OwnerID, &rm.Name, &rm.Description, &rm.Status, &projectID, &metadata, &rm.CreatedAt, &rm.UpdatedAt); err != nil {
		return roadmap.Roadmap{}, err
	}
	if projectID.Valid {
		rm.ProjectID = &projectID.String
	}
	md, err := decodeMetadata(metadata)
	if err != nil {
		return roadmap.Roadmap{}, err
	}
	rm.Metadata = md
	return rm, nil
}

func (s *PostgresStore) CreateRoadmap(ctx context.Context, ownerID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	metadata, err := encodeMetadata(in.Metadata)
	if err != nil {
		return roadmap.Roadmap{}, fmt.Errorf("encode metadata: %w", err)
	}
	rm, err := scanRoadmap(s.db.QueryRowContext(ctx, `
		INSERT INTO roadmaps (id, owner_id, name, description, status, project_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+roadmapColumns,
		util.NewID("rm"), ownerID, in.Name, in.Description, in.Status, in.ProjectID, metadata))
	if err != nil {
		return roadmap.Roadmap{}, mapPgError(fmt.Errorf("create roadmap: %w", err))
	}
	return rm, nil
}

func (s *PostgresStore) GetRoadmap(ctx context.Context, roadmapID string) (roadmap.Roadmap, error) {
	rm, err := scanRoadmap(s.db.QueryRowContext(ctx, `SELECT `+roadmapColumns+` FROM roadmaps WHERE id=$1`, roadmapID))
	if err != nil {
		return roadmap.Roadmap{}, fmt.Errorf("get roadmap: %w", err)
	}
	return rm, nil
}

func (s *PostgresStore) UpdateRoadmap(ctx context.Context, roadmapID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	metadata, err := encodeMetadata(in.Metadata)
	if err != nil {
		return roadmap.Roadmap{}, fmt.Errorf("encode metadata: %w", err)
	}
	rm, err := scanRoadmap(s.db.QueryRowContext(ctx, `
		UPDATE roadmaps
		SET name=$2, description=$3, status=$4, project_id=$5, metadata=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING `+roadmapColumns,
		roadmapID, in.Name, in.Description, in.Status, in.ProjectID, metadata))
	if err != nil {
		return roadmap.Roadmap{}, fmt.Errorf("update roadmap: %w", err)
	}
	return rm, nil
}

func (s *PostgresStore) DeleteRoadmap(ctx context.Context, roadmapID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roadmaps WHERE id=$1`, roadmapID)
	if err != nil {
		return fmt.Errorf("delete roadmap: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListRoadmapsByOwner(ctx context.Context, ownerID string) ([]roadmap.Roadmap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roadmapColumns+`
		FROM roadmaps
		WHERE owner_id=$1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list roadmaps: %w", err)
	}
	defer rows.Close()

	items := make([]roadmap.Roadmap, 0)
	for rows.Next() {
		rm, err := scanRoadmap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan roadmap: %w", err)
		}
		items = append(items, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roadmaps: %w", err)
	}
	return items, nil
}

// TransferOwnership moves every roadmap of guestUserID, together with its
// share settings, to targetUserID and reports how many moved.
func (s *PostgresStore) TransferOwnership(ctx context.Context, guestUserID, targetUserID string) (int, error) {
	var moved int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE roadmaps SET owner_id=$2, updated_at=NOW() WHERE owner_id=$1`, guestUserID, targetUserID)
		if err != nil {
			return fmt.Errorf("transfer roadmaps: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transfer roadmaps: %w", err)
		}
		moved = int(n)
		if _, err := tx.ExecContext(ctx, `UPDATE share_settings SET owner_id=$2, updated_at=NOW() WHERE owner_id=$1`, guestUserID, targetUserID); err != nil {
			return fmt.Errorf("transfer share settings: %w", err)
		}
		return nil
	})
	return moved, err
}

// GetRoadmapTree loads the roadmap with every child level, one query per
// level, ordered by position.
func (s *PostgresStore) GetRoadmapTree(ctx context.Context, roadmapID string) (roadmap.Tree, error) {
	rm, err := s.GetRoadmap(ctx, roadmapID)
	if err != nil {
		return roadmap.Tree{}, err
	}
	tree := roadmap.Tree{Roadmap: rm, Milestones: []roadmap.Milestone{}, Epics: []roadmap.Epic{}}

	milestones, err := s.listMilestones(ctx, roadmapID)
	if err != nil {
		return roadmap.Tree{}, err
	}
	tree.Milestones = milestones

	epics, err := s.listEpics(ctx, roadmapID)
	if err != nil {
		return roadmap.Tree{}, err
	}
	features, err := s.listFeatures(ctx, roadmapID)
	if err != nil {
		return roadmap.Tree{}, err
	}
	tasks, err := s.listTasks(ctx, roadmapID)
	if err != nil {
		return roadmap.Tree{}, err
	}

	byFeature := make(map[string][]roadmap.Task)
	for _, t := range tasks {
		byFeature[t.FeatureID] = append(byFeature[t.FeatureID], t)
	}
	byEpic := make(map[string][]roadmap.Feature)
	for _, f := range features {
		f.Tasks = byFeature[f.ID]
		if f.Tasks == nil {
			f.Tasks = []roadmap.Task{}
		}
		byEpic[f.EpicID] = append(byEpic[f.EpicID], f)
	}
	for _, e := range epics {
		e.Features = byEpic[e.ID]
		if e.Features == nil {
			e.Features = []roadmap.Feature{}
		}
		tree.Epics = append(tree.Epics, e)
	}
	return tree, nil
}

func (s *PostgresStore) listMilestones(ctx context.Context, roadmapID string) ([]roadmap.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.roadmap_id, m.title, m.description, m.target_date, m.status, m.position,
			COALESCE(JSON_AGG(mf.feature_id ORDER BY mf.feature_id) FILTER (WHERE mf.feature_id IS NOT NULL), '[]')
		FROM milestones m
		LEFT JOIN milestone_features mf ON mf.milestone_id = m.id
		WHERE m.roadmap_id=$1
		GROUP BY m.id
		ORDER BY m.position
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := make([]roadmap.Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

func scanMilestone(row interface{ Scan(...any) error }) (roadmap.Milestone, error) {
	var m roadmap.Milestone
	var target sql.NullTime
	var featureIDs []byte
	if err := row.Scan(&m.ID, &m.RoadmapID, &m.Title, &m.Description, &target, &m.Status, &m.Position, &featureIDs); err != nil {
		return roadmap.Milestone{}, fmt.Errorf("scan milestone: %w", err)
	}
	if target.Valid {
		m.TargetDate = &target.Time
	}
	m.FeatureIDs = []string{}
	if err := json.Unmarshal(featureIDs, &m.FeatureIDs); err != nil {
		return roadmap.Milestone{}, fmt.Errorf("decode milestone features: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) listEpics(ctx context.Context, roadmapID string) ([]roadmap.Epic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, roadmap_id, title, description, priority, status, position
		FROM epics
		WHERE roadmap_id=$1
		ORDER BY position
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list epics: %w", err)
	}
	defer rows.Close()

	items := make([]roadmap.Epic, 0)
	for rows.Next() {
		var e roadmap.Epic
		if err := rows.Scan(&e.ID, &e.RoadmapID, &e.Title, &e.Description, &e.Priority, &e.Status, &e.Position); err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epics: %w", err)
	}
	return items, nil
}

const featureColumns = `id, epic_id, roadmap_id, title, description, status, position, is_deliverable`

func scanFeature(row interface{ Scan(...any) error }) (roadmap.Feature, error) {
	var f roadmap.Feature
	if err := row.Scan(&f.ID, &f.EpicID, &f.RoadmapID, &f.Title, &f.Description, &f.Status, &f.Position, &f.IsDeliverable); err != nil {
		return roadmap.Feature{}, err
	}
	return f, nil
}

func (s *PostgresStore) listFeatures(ctx context.Context, roadmapID string) ([]roadmap.Feature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+featureColumns+`
		FROM features
		WHERE roadmap_id=$1
		ORDER BY epic_id, position
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	items := make([]roadmap.Feature, 0)
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}
	return items, nil
}

const taskColumns = `t.id, t.feature_id, t.title, t.description, t.status, t.priority, t.position, t.assignee_id, t.due_date, t.checklist`

func scanTask(row interface{ Scan(...any) error }) (roadmap.Task, error) {
	var t roadmap.Task
	var assignee sql.NullString
	var due sql.NullTime
	var checklist []byte
	if err := row.Scan(&t.ID, &t.FeatureID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Position, &assignee, &due, &checklist); err != nil {
		return roadmap.Task{}, err
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	t.Checklist = []roadmap.ChecklistItem{}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &t.Checklist); err != nil {
			return roadmap.Task{}, fmt.Errorf("decode checklist: %w", err)
		}
	}
	return t, nil
}

func (s *PostgresStore) listTasks(ctx context.Context, roadmapID string) ([]roadmap.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN features f ON f.id = t.feature_id
		WHERE f.roadmap_id=$1
		ORDER BY t.feature_id, t.position
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]roadmap.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// replaceMilestoneFeatures links only features of the milestone's roadmap.
func replaceMilestoneFeatures(ctx context.Context, tx *sql.Tx, milestoneID, roadmapID string, featureIDs []string) ([]string, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM milestone_features WHERE milestone_id=$1`, milestoneID); err != nil {
		return nil, fmt.Errorf("clear milestone features: %w", err)
	}
	linked := make([]string, 0, len(featureIDs))
	for _, featureID := range featureIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO milestone_features (milestone_id, feature_id)
			SELECT $1, id FROM features WHERE id=$2 AND roadmap_id=$3
			ON CONFLICT DO NOTHING
		`, milestoneID, featureID, roadmapID)
		if err != nil {
			return nil, fmt.Errorf("link milestone feature: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			linked = append(linked, featureID)
		}
	}
	return linked, nil
}

func (s *PostgresStore) CreateMilestone(ctx context.Context, roadmapID string, in roadmap.MilestoneInput) (roadmap.Milestone, error) {
	m := roadmap.Milestone{
		ID:          util.NewID("ms"),
		RoadmapID:   roadmapID,
		Title:       in.Title,
		Description: in.Description,
		TargetDate:  in.TargetDate,
		Status:      in.Status,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := milestoneSiblings.lockParent(ctx, tx, roadmapID); err != nil {
			return err
		}
		pos, err := milestoneSiblings.claim(ctx, tx, roadmapID, in.Position)
		if err != nil {
			return err
		}
		m.Position = pos
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO milestones (id, roadmap_id, title, description, target_date, status, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.RoadmapID, m.Title, m.Description, m.TargetDate, m.Status, m.Position); err != nil {
			return fmt.Errorf("insert milestone: %w", err)
		}
		m.FeatureIDs, err = replaceMilestoneFeatures(ctx, tx, m.ID, roadmapID, in.FeatureIDs)
		return err
	})
	if err != nil {
		return roadmap.Milestone{}, err
	}
	return m, nil
}

func (s *PostgresStore) UpdateMilestone(ctx context.Context, m roadmap.Milestone) (roadmap.Milestone, error) {
	var out roadmap.Milestone
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE milestones
			SET title=$2, description=$3, target_date=$4, status=$5, updated_at=NOW()
			WHERE id=$1
			RETURNING id, roadmap_id, title, description, target_date, status, position
		`, m.ID, m.Title, m.Description, m.TargetDate, m.Status).Scan(&out.ID, &out.RoadmapID, &out.Title, &out.Description, &out.TargetDate, &out.Status, &out.Position)
		if err != nil {
			return fmt.Errorf("update milestone: %w", err)
		}
		out.FeatureIDs, err = replaceMilestoneFeatures(ctx, tx, out.ID, out.RoadmapID, m.FeatureIDs)
		return err
	})
	if err != nil {
		return roadmap.Milestone{}, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteMilestone(ctx context.Context, milestoneID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return milestoneSiblings.remove(ctx, tx, milestoneID)
	})
}

func (s *PostgresStore) CreateEpic(ctx context.Context, roadmapID string, in roadmap.EpicInput) (roadmap.Epic, error) {
	e := roadmap.Epic{
		ID:          util.NewID("ep"),
		RoadmapID:   roadmapID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Status:      in.Status,
		Features:    []roadmap.Feature{},
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := epicSiblings.lockParent(ctx, tx, roadmapID); err != nil {
			return err
		}
		pos, err := epicSiblings.claim(ctx, tx, roadmapID, in.Position)
		if err != nil {
			return err
		}
		e.Position = pos
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO epics (id, roadmap_id, title, description, priority, status, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.RoadmapID, e.Title, e.Description, e.Priority, e.Status, e.Position); err != nil {
			return fmt.Errorf("insert epic: %w", err)
		}
		return nil
	})
	if err != nil {
		return roadmap.Epic{}, err
	}
	return e, nil
}

// UpdateEpic changes the mutable fields only. Position and parent are not
// touched and the answer carries no features.
func (s *PostgresStore) UpdateEpic(ctx context.Context, e roadmap.Epic) (roadmap.Epic, error) {
	var out roadmap.Epic
	err := s.db.QueryRowContext(ctx, `
		UPDATE epics
		SET title=$2, description=$3, priority=$4, status=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING id, roadmap_id, title, description, priority, status, position
	`, e.ID, e.Title, e.Description, e.Priority, e.Status).Scan(&out.ID, &out.RoadmapID, &out.Title, &out.Description, &out.Priority, &out.Status, &out.Position)
	if err != nil {
		return roadmap.Epic{}, fmt.Errorf("update epic: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteEpic(ctx context.Context, epicID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return epicSiblings.remove(ctx, tx, epicID)
	})
}

func (s *PostgresStore) CreateFeature(ctx context.Context, epicID string, in roadmap.FeatureInput) (roadmap.Feature, error) {
	f := roadmap.Feature{
		ID:            util.NewID("ft"),
		EpicID:        epicID,
		Title:         in.Title,
		Description:   in.Description,
		Status:        in.Status,
		IsDeliverable: in.IsDeliverable,
		Tasks:         []roadmap.Task{},
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// The epic row lock doubles as the sibling lock and yields the roadmap.
		err := tx.QueryRowContext(ctx, `SELECT roadmap_id FROM epics WHERE id=$1 FOR UPDATE`, epicID).Scan(&f.RoadmapID)
		if err != nil {
			return fmt.Errorf("lock epic %s: %w", epicID, err)
		}
		pos, err := featureSiblings.claim(ctx, tx, epicID, in.Position)
		if err != nil {
			return err
		}
		f.Position = pos
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO features (id, epic_id, roadmap_id, title, description, status, position, is_deliverable)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, f.ID, f.EpicID, f.RoadmapID, f.Title, f.Description, f.Status, f.Position, f.IsDeliverable); err != nil {
			return fmt.Errorf("insert feature: %w", err)
		}
		return nil
	})
	if err != nil {
		return roadmap.Feature{}, err
	}
	return f, nil
}

func (s *PostgresStore) UpdateFeature(ctx context.Context, f roadmap.Feature) (roadmap.Feature, error) {
	out, err := scanFeature(s.db.QueryRowContext(ctx, `
		UPDATE features
		SET title=$2, description=$3, status=$4, is_deliverable=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING `+featureColumns,
		f.ID, f.Title, f.Description, f.Status, f.IsDeliverable))
	if err != nil {
		return roadmap.Feature{}, fmt.Errorf("update feature: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteFeature(ctx context.Context, featureID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return featureSiblings.remove(ctx, tx, featureID)
	})
}

func (s *PostgresStore) CreateTask(ctx context.Context, featureID string, in roadmap.TaskInput) (roadmap.Task, error) {
	t := roadmap.Task{
		ID:          util.NewID("tk"),
		FeatureID:   featureID,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		AssigneeID:  in.AssigneeID,
		DueDate:     in.DueDate,
		Checklist:   in.Checklist,
	}
	if t.Checklist == nil {
		t.Checklist = []roadmap.ChecklistItem{}
	}
	checklist, err := json.Marshal(t.Checklist)
	if err != nil {
		return roadmap.Task{}, fmt.Errorf("encode checklist: %w", err)
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := taskSiblings.lockParent(ctx, tx, featureID); err != nil {
			return err
		}
		pos, err := taskSiblings.claim(ctx, tx, featureID, in.Position)
		if err != nil {
			return err
		}
		t.Position = pos
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, feature_id, title, description, status, priority, position, assignee_id, due_date, checklist)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, t.ID, t.FeatureID, t.Title, t.Description, t.Status, t.Priority, t.Position, t.AssigneeID, t.DueDate, checklist); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return roadmap.Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t roadmap.Task) (roadmap.Task, error) {
	checklist := t.Checklist
	if checklist == nil {
		checklist = []roadmap.ChecklistItem{}
	}
	raw, err := json.Marshal(checklist)
	if err != nil {
		return roadmap.Task{}, fmt.Errorf("encode checklist: %w", err)
	}
	out, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks t
		SET title=$2, description=$3, status=$4, priority=$5, assignee_id=$6, due_date=$7, checklist=$8, updated_at=NOW()
		WHERE t.id=$1
		RETURNING `+taskColumns,
		t.ID, t.Title, t.Description, t.Status, t.Priority, t.AssigneeID, t.DueDate, raw))
	if err != nil {
		return roadmap.Task{}, fmt.Errorf("update task: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return taskSiblings.remove(ctx, tx, taskID)
	})
}

// RoadmapIDFor resolves the roadmap an entity of kind belongs to.
func (s *PostgresStore) RoadmapIDFor(ctx context.Context, kind roadmap.Kind, id string) (string, error) {
	var query string
	switch kind {
	case roadmap.KindRoadmap:
		query = `SELECT id FROM roadmaps WHERE id=$1`
	case roadmap.KindMilestone:
		query = `SELECT roadmap_id FROM milestones WHERE id=$1`
	case roadmap.KindEpic:
		query = `SELECT roadmap_id FROM epics WHERE id=$1`
	case roadmap.KindFeature:
		query = `SELECT roadmap_id FROM features WHERE id=$1`
	case roadmap.KindTask:
		query = `SELECT f.roadmap_id FROM tasks t JOIN features f ON f.id = t.feature_id WHERE t.id=$1`
	default:
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	var roadmapID string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&roadmapID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("resolve roadmap for %s: %w", kind, err)
	}
	return roadmapID, nil
}

// prefixed qualifies each column in a comma separated list with prefix.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = prefix + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
