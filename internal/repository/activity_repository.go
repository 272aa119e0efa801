package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/db"
	"github.com/rpattn/tickstore/internal/domain"
)

// ActivityRepository stores the activities that clock ticks link to.
type ActivityRepository interface {
	Create(ctx context.Context, description, actor string) (domain.Activity, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Activity, error)
}

type activityRepository struct {
	q db.DBTX
}

// NewActivityRepository creates an activity repository over the activities table.
func NewActivityRepository(q db.DBTX) ActivityRepository {
	return &activityRepository{q: q}
}

func (r *activityRepository) Create(ctx context.Context, description, actor string) (domain.Activity, error) {
	activity := domain.Activity{
		ID:          uuid.New(),
		Description: description,
		Actor:       actor,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := r.q.Exec(ctx,
		"INSERT INTO activities (id, description, actor, created_at) VALUES ($1, $2, $3, $4)",
		activity.ID, activity.Description, activity.Actor, activity.CreatedAt,
	); err != nil {
		return domain.Activity{}, fmt.Errorf("failed to create activity: %w", err)
	}
	return activity, nil
}

func (r *activityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Activity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx,
		"SELECT id, description, actor, created_at FROM activities WHERE id = ANY($1)",
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		if err := rows.Scan(&activity.ID, &activity.Description, &activity.Actor, &activity.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}
	return activities, nil
}
