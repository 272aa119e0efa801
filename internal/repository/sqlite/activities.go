package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"
)

type activityRepository struct {
	q querier
}

// Activities returns the activity repository of the store.
func (s *Store) Activities() repository.ActivityRepository {
	return &activityRepository{q: s.sqlDB}
}

func (r *activityRepository) Create(ctx context.Context, description, actor string) (domain.Activity, error) {
	activity := domain.Activity{
		ID:          uuid.New(),
		Description: description,
		Actor:       actor,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if _, err := r.q.ExecContext(ctx,
		"INSERT INTO activities (id, description, actor, created_at) VALUES (?, ?, ?, ?)",
		activity.ID.String(), activity.Description, activity.Actor, toMicros(activity.CreatedAt),
	); err != nil {
		return domain.Activity{}, fmt.Errorf("create activity: %w", err)
	}
	return activity, nil
}

func (r *activityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Activity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	rows, err := r.q.QueryContext(ctx,
		fmt.Sprintf("SELECT id, description, actor, created_at FROM activities WHERE id IN (%s)", placeholders(len(ids))),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var (
			activity  domain.Activity
			createdAt int64
		)
		if err := rows.Scan(&activity.ID, &activity.Description, &activity.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activity.CreatedAt = fromMicros(createdAt)
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return activities, nil
}
