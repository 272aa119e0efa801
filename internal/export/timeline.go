// Package export renders entity timelines as spreadsheets.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/tickstore/internal/domain"
)

const timelineSheet = "Timeline"

// TimelineSheet is the input of WriteTimelineXLSX.
type TimelineSheet struct {
	EntityType string
	EntityID   uuid.UUID
	// Fields fixes the column order. When empty, every field seen in the
	// timeline is written in name order.
	Fields   []string
	Timeline []domain.TimelineEntry
}

// WriteTimelineXLSX writes one row per tick. Cells of fields that did not
// change at a tick stay empty.
func WriteTimelineXLSX(w io.Writer, sheet TimelineSheet) error {
	fields := sheet.Fields
	if len(fields) == 0 {
		fields = changedFields(sheet.Timeline)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", timelineSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"tick", "timestamp", "activity"}
	for _, field := range fields {
		header = append(header, field)
	}
	if err := f.SetSheetRow(timelineSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, entry := range sheet.Timeline {
		row := []any{
			entry.Clock.Tick,
			entry.Clock.Timestamp.UTC().Format(time.RFC3339Nano),
			activityLabel(entry.Clock),
		}
		for _, field := range fields {
			value, ok := entry.Changed[field]
			if !ok {
				row = append(row, nil)
				continue
			}
			row = append(row, formatValue(value))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(timelineSheet, cell, &row); err != nil {
			return fmt.Errorf("write tick %d: %w", entry.Clock.Tick, err)
		}
	}

	if err := f.SetPanes(timelineSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// FileName builds a download name such as "animal-<id>-timeline.xlsx".
func FileName(entityType string, entityID uuid.UUID) string {
	base := sanitizeFileComponent(entityType)
	if base == "" {
		base = "entity"
	}
	return fmt.Sprintf("%s-%s-timeline.xlsx", base, entityID)
}

func changedFields(timeline []domain.TimelineEntry) []string {
	seen := make(map[string]struct{})
	for _, entry := range timeline {
		for field := range entry.Changed {
			seen[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func activityLabel(tick domain.ClockTick) string {
	if tick.Activity != nil {
		return formatValue(tick.Activity)
	}
	if tick.ActivityID.Valid {
		return tick.ActivityID.UUID.String()
	}
	return ""
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
