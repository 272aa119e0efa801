// Package catalog holds the entity types the tickstore command serves.
package catalog

import (
	"fmt"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/temporal"
)

// ActivityTable is created by the static migrations of both backends.
const ActivityTable = "activities"

// Animal is the demo type: name and color keep history, nickname does not.
// Every tick is linked to an activity whose description is loaded with the
// timeline.
func Animal() temporal.EntityType {
	return temporal.EntityType{
		Name:  "animal",
		Table: "animals",
		Columns: []domain.Column{
			{Name: "name", Type: "TEXT"},
			{Name: "color", Type: "TEXT"},
			{Name: "nickname", Type: "TEXT"},
		},
		Tracked: []string{"name", "color"},
		Activity: &temporal.ActivityType{
			Name:   "activity",
			Table:  ActivityTable,
			Refine: withActivityDescription,
		},
	}
}

// Register adds every catalog type to registry with the given bulk update
// policy.
func Register(registry *temporal.Registry, bulkUpdates temporal.BulkUpdatePolicy) error {
	for _, typ := range []temporal.EntityType{Animal()} {
		typ.BulkUpdates = bulkUpdates
		if err := registry.Register(typ); err != nil {
			return err
		}
	}
	return nil
}

func withActivityDescription(q domain.TickQuery) domain.TickQuery {
	q.Joins = append(q.Joins, "LEFT JOIN "+ActivityTable+" a ON a.id = c.activity_id")
	q.Columns = append(q.Columns, "a.description")
	q.Decode = func(values []any) (any, error) {
		switch v := values[0].(type) {
		case nil:
			return nil, nil
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		default:
			return nil, fmt.Errorf("unexpected activity description type %T", v)
		}
	}
	return q
}
