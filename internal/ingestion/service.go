// Package ingestion loads CSV and XLSX sheets into clocked entities. Each
// row is saved through the temporal engine, so changed tracked fields get a
// new tick and unchanged rows are left alone.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/tickstore/internal/domain"
	"github.com/rpattn/tickstore/internal/repository"
	"github.com/rpattn/tickstore/internal/temporal"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnknownColumn     = errors.New("unknown column")
)

const idHeader = "id"

// Request describes one sheet to ingest.
type Request struct {
	EntityType string
	FileName   string
	Payload    []byte
	// Actor is recorded on the activity created for the import.
	Actor string
	// Activity links every saved tick to an existing activity. When unset and
	// the type declares activities, one is created for the import.
	Activity uuid.NullUUID
}

// RowError reports a row that could not be saved.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary counts the outcome of every data row.
type Summary struct {
	Rows       int           `json:"rows"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	ActivityID uuid.NullUUID `json:"activity_id"`
	Errors     []RowError    `json:"errors,omitempty"`
}

// Service ingests tabular data into clocked entity types.
type Service struct {
	engine     *temporal.Engine
	activities repository.ActivityRepository
	logger     *slog.Logger
}

// NewService creates a new ingestion service. activities may be nil when no
// ingested type declares activities.
func NewService(engine *temporal.Engine, activities repository.ActivityRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, activities: activities, logger: logger}
}

// Ingest saves every data row of the sheet. Row failures are collected in the
// summary; structural problems with the sheet fail the whole call.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	registered, err := s.engine.Registry().Lookup(req.EntityType)
	if err != nil {
		return Summary{}, err
	}

	table, err := parseTable(req.FileName, req.Payload)
	if err != nil {
		return Summary{}, err
	}

	columnTypes := make(map[string]string, len(registered.Tables.Columns))
	for _, column := range registered.Tables.Columns {
		columnTypes[column.Name] = column.Type
	}
	idIndex := -1
	for i, header := range table.headers {
		if header == idHeader {
			idIndex = i
			continue
		}
		if _, ok := columnTypes[header]; !ok {
			return Summary{}, fmt.Errorf("%w: %s is not a field on %s", ErrUnknownColumn, header, registered.Tables.Entity)
		}
	}

	summary := Summary{Rows: len(table.rows), ActivityID: req.Activity}
	if registered.Type.Activity != nil && !summary.ActivityID.Valid && s.activities != nil {
		activity, err := s.activities.Create(ctx, "import "+req.FileName, req.Actor)
		if err != nil {
			return Summary{}, err
		}
		summary.ActivityID = uuid.NullUUID{UUID: activity.ID, Valid: true}
	}

	var opts []temporal.SaveOption
	if summary.ActivityID.Valid {
		opts = append(opts, temporal.WithActivity(summary.ActivityID.UUID))
	}

	for i, row := range table.rows {
		rowNumber := table.rowNumbers[i]
		outcome, err := s.ingestRow(ctx, req.EntityType, table.headers, idIndex, columnTypes, row, opts)
		if err != nil {
			s.logger.Warn("ingestion row failed", "entity_type", req.EntityType, "file", req.FileName, "row", rowNumber, "error", err)
			summary.Errors = append(summary.Errors, RowError{Row: rowNumber, Message: err.Error()})
			continue
		}
		switch outcome {
		case outcomeCreated:
			summary.Created++
		case outcomeUpdated:
			summary.Updated++
		default:
			summary.Unchanged++
		}
	}

	s.logger.Info("ingestion finished",
		"entity_type", req.EntityType,
		"file", req.FileName,
		"rows", summary.Rows,
		"created", summary.Created,
		"updated", summary.Updated,
		"failed", len(summary.Errors),
	)
	return summary, nil
}

type rowOutcome int

const (
	outcomeUnchanged rowOutcome = iota
	outcomeCreated
	outcomeUpdated
)

func (s *Service) ingestRow(ctx context.Context, entityType string, headers []string, idIndex int, columnTypes map[string]string, row []string, opts []temporal.SaveOption) (rowOutcome, error) {
	values := make(map[string]any, len(headers))
	for i, header := range headers {
		if i == idIndex {
			continue
		}
		value, err := coerceValue(columnTypes[header], row[i])
		if err != nil {
			return outcomeUnchanged, fmt.Errorf("%s: %w", header, err)
		}
		values[header] = value
	}

	var rec *temporal.Record
	if idIndex >= 0 && strings.TrimSpace(row[idIndex]) != "" {
		id, err := uuid.Parse(strings.TrimSpace(row[idIndex]))
		if err != nil {
			return outcomeUnchanged, fmt.Errorf("invalid id %q: %w", row[idIndex], err)
		}
		rec, err = s.engine.Load(ctx, entityType, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rec = temporal.NewRecordWithID(entityType, id, values)
		case err != nil:
			return outcomeUnchanged, err
		default:
			for field, value := range values {
				rec.Set(field, value)
			}
		}
	} else {
		rec = temporal.NewRecord(entityType, values)
	}

	persisted, tick := rec.Persisted(), rec.Tick
	if _, err := s.engine.Save(ctx, rec, opts...); err != nil {
		return outcomeUnchanged, err
	}
	switch {
	case !persisted:
		return outcomeCreated, nil
	case rec.Tick != tick:
		return outcomeUpdated, nil
	default:
		return outcomeUnchanged, nil
	}
}
