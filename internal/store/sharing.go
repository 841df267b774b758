package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"prdigy/api/internal/access"
	"prdigy/api/internal/rbac"
)

var _ access.Gateway = (*PostgresStore)(nil)

const shareColumns = `roadmap_id, owner_id, link_enabled, link_role, token, expires_at, access_count, last_accessed_at, created_at, updated_at`

func (s *PostgresStore) scanShareSettings(ctx context.Context, row *sql.Row) (*access.ShareSettings, error) {
	var settings access.ShareSettings
	var expiresAt, lastAccessedAt sql.NullTime
	err := row.Scan(
		&settings.RoadmapID,
		&settings.OwnerID,
		&settings.PublicLink.Enabled,
		&settings.PublicLink.Role,
		&settings.PublicLink.Token,
		&expiresAt,
		&settings.AccessCount,
		&lastAccessedAt,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		settings.PublicLink.ExpiresAt = &expiresAt.Time
	}
	if lastAccessedAt.Valid {
		settings.LastAccessedAt = &lastAccessedAt.Time
	}
	invitations, err := s.listInvitations(ctx, settings.RoadmapID)
	if err != nil {
		return nil, err
	}
	settings.Invitations = invitations
	return &settings, nil
}

func (s *PostgresStore) listInvitations(ctx context.Context, roadmapID string) ([]access.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, role FROM share_invitations
		WHERE roadmap_id=$1
		ORDER BY created_at, email
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]access.Invitation, 0)
	for rows.Next() {
		var inv access.Invitation
		if err := rows.Scan(&inv.Email, &inv.Role); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetShareSettings(ctx context.Context, roadmapID string) (*access.ShareSettings, error) {
	settings, err := s.scanShareSettings(ctx, s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM share_settings WHERE roadmap_id=$1`, roadmapID))
	if err != nil {
		return nil, fmt.Errorf("get share settings: %w", err)
	}
	return settings, nil
}

func (s *PostgresStore) GetShareSettingsByToken(ctx context.Context, token string) (*access.ShareSettings, error) {
	settings, err := s.scanShareSettings(ctx, s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM share_settings WHERE token=$1`, token))
	if err != nil {
		return nil, fmt.Errorf("get share settings by token: %w", err)
	}
	return settings, nil
}

// UpsertShareSettings writes the settings row and replaces the invitation
// list in one transaction. Access counters survive.
func (s *PostgresStore) UpsertShareSettings(ctx context.Context, settings access.ShareSettings) (access.ShareSettings, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO share_settings (roadmap_id, owner_id, link_enabled, link_role, token, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (roadmap_id) DO UPDATE SET
				owner_id=EXCLUDED.owner_id,
				link_enabled=EXCLUDED.link_enabled,
				link_role=EXCLUDED.link_role,
				token=EXCLUDED.token,
				expires_at=EXCLUDED.expires_at,
				updated_at=NOW()
		`, settings.RoadmapID, settings.OwnerID, settings.PublicLink.Enabled, settings.PublicLink.Role, settings.PublicLink.Token, settings.PublicLink.ExpiresAt); err != nil {
			return mapPgError(fmt.Errorf("upsert share settings: %w", err))
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM share_invitations WHERE roadmap_id=$1`, settings.RoadmapID); err != nil {
			return fmt.Errorf("clear invitations: %w", err)
		}
		for _, inv := range settings.Invitations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO share_invitations (roadmap_id, email, role)
				VALUES ($1, $2, $3)
			`, settings.RoadmapID, normalizeEmail(inv.Email), inv.Role); err != nil {
				return mapPgError(fmt.Errorf("insert invitation: %w", err))
			}
		}
		return nil
	})
	if err != nil {
		return access.ShareSettings{}, err
	}

	saved, err := s.GetShareSettings(ctx, settings.RoadmapID)
	if err != nil {
		return access.ShareSettings{}, err
	}
	if saved == nil {
		return access.ShareSettings{}, fmt.Errorf("reload share settings: %w", sql.ErrNoRows)
	}
	// Invitation order follows the caller, not insertion timestamps.
	saved.Invitations = append([]access.Invitation(nil), settings.Invitations...)
	return *saved, nil
}

func (s *PostgresStore) DeleteShareSettings(ctx context.Context, roadmapID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM share_settings WHERE roadmap_id=$1`, roadmapID); err != nil {
		return fmt.Errorf("delete share settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordShareAccess(ctx context.Context, roadmapID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE share_settings
		SET access_count = access_count + 1, last_accessed_at=NOW()
		WHERE roadmap_id=$1
	`, roadmapID)
	if err != nil {
		return fmt.Errorf("record share access: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSharedWith(ctx context.Context, email string) ([]access.SharedRoadmap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("r.", roadmapColumns)+`, i.role, i.created_at
		FROM share_invitations i
		JOIN roadmaps r ON r.id = i.roadmap_id
		WHERE i.email=$1
		ORDER BY i.created_at DESC
	`, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list shared roadmaps: %w", err)
	}
	defer rows.Close()

	items := make([]access.SharedRoadmap, 0)
	for rows.Next() {
		var item access.SharedRoadmap
		var role string
		rm, err := scanRoadmap(scanPrefix{rows: rows, tail: []any{&role, &item.InvitedAt}})
		if err != nil {
			return nil, fmt.Errorf("scan shared roadmap: %w", err)
		}
		item.Roadmap = rm
		item.Role = rbac.Normalize(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared roadmaps: %w", err)
	}
	return items, nil
}

// scanPrefix lets scanRoadmap read the leading columns of a wider row.
type scanPrefix struct {
	rows *sql.Rows
	tail []any
}

func (p scanPrefix) Scan(dest ...any) error {
	return p.rows.Scan(append(dest, p.tail...)...)
}
