package activityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// ActivityLoader batches activity lookups made while rendering timelines.
type ActivityLoader struct {
	Loader *dataloader.Loader
}

func NewActivityLoader(repo repository.ActivityRepository) *ActivityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				}
				return results
			}
			ids[i] = id
		}

		activities, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[uuid.UUID]domain.Activity, len(activities))
		for _, a := range activities {
			byID[a.ID] = a
		}

		// Results follow the order of keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if a, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: a}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &ActivityLoader{Loader: loader}
}

// LoadMany resolves every id in one batch. Missing activities map to nil.
func (l *ActivityLoader) LoadMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Activity, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}
	values, errs := l.Loader.LoadMany(ctx, keys)()

	out := make(map[uuid.UUID]*domain.Activity, len(ids))
	for i, id := range ids {
		if len(errs) > i && errs[i] != nil {
			return nil, errs[i]
		}
		if activity, ok := values[i].(domain.Activity); ok {
			out[id] = &activity
		} else {
			out[id] = nil
		}
	}
	return out, nil
}
