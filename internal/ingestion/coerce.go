package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006/01/02",
}

// coerceValue converts a cell to the Go value matching a declared SQL column
// type. Empty cells become NULL.
func coerceValue(sqlType, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	typ := strings.ToUpper(strings.TrimSpace(sqlType))
	switch {
	case strings.Contains(typ, "INT"):
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case strings.Contains(typ, "REAL"), strings.Contains(typ, "DOUBLE"), strings.Contains(typ, "FLOAT"), strings.Contains(typ, "NUMERIC"):
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case strings.HasPrefix(typ, "BOOL"):
		value := strings.ToLower(raw)
		switch value {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case strings.HasPrefix(typ, "TIMESTAMP"), typ == "DATE":
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unable to coerce %q to timestamp", raw)
	default:
		return raw, nil
	}
}
