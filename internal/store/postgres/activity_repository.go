package postgres

import (
	"context"
	"fmt"

	"github.com/opentrusty/tenancy/internal/audit"
)

// ActivityRepository implements audit.ActivityRepository on the
// row-level-secured tenant_activity table. Every statement runs with the
// tenant variable set to the row's tenant.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts an activity row
func (r *ActivityRepository) Append(ctx context.Context, a *audit.Activity) error {
	metadata := a.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return r.db.withTenant(ctx, a.TenantID, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO tenant_activity (id, tenant_id, actor_id, action, entity_kind, entity_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, a.ID, a.TenantID, a.ActorID, a.Action, string(a.Entity.Kind()), a.Entity.ID(), metadata, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", classify(err))
		}
		return nil
	})
}

// List returns the newest activity of a tenant
func (r *ActivityRepository) List(ctx context.Context, tenantID string, limit int) ([]*audit.Activity, error) {
	var activities []*audit.Activity
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		rows, err := q.Query(ctx, `
			SELECT id, tenant_id, actor_id, action, entity_kind, entity_id, metadata, created_at
			FROM tenant_activity
			WHERE tenant_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, tenantID, limit)
		if err != nil {
			return fmt.Errorf("failed to list activity: %w", classify(err))
		}
		defer rows.Close()

		for rows.Next() {
			var (
				a              audit.Activity
				kind, entityID string
			)
			if err := rows.Scan(&a.ID, &a.TenantID, &a.ActorID, &a.Action, &kind, &entityID, &a.Metadata, &a.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan activity: %w", err)
			}
			ref, err := audit.ParseEntityRef(kind, entityID)
			if err != nil {
				return err
			}
			a.Entity = ref
			activities = append(activities, &a)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list activity: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activities, nil
}
