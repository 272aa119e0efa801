package temporal

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rpattn/tickstore/internal/domain"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var reservedColumns = map[string]struct{}{
	"id":   {},
	"tick": {},
}

// Tracked fields share their history table with the bookkeeping columns.
var reservedHistoryColumns = map[string]struct{}{
	"entity_id":  {},
	"vclock":     {},
	"effective":  {},
	"start_tick": {},
	"end_tick":   {},
	"start_time": {},
	"end_time":   {},
}

// QueryRefiner customises the clock tick query, typically to join the activity
// table and fetch its related data in the same round trip.
type QueryRefiner func(domain.TickQuery) domain.TickQuery

// BulkUpdatePolicy controls in-place mass updates that bypass per-row diffing.
type BulkUpdatePolicy int

const (
	// BulkUpdateUntrackedOnly permits mass updates that only touch untracked columns.
	BulkUpdateUntrackedOnly BulkUpdatePolicy = iota
	// BulkUpdateForbidden rejects every mass update.
	BulkUpdateForbidden
	// BulkUpdateHistoryBlind permits mass updates of any column. Tracked columns
	// updated this way drift from their history.
	BulkUpdateHistoryBlind
)

func (p BulkUpdatePolicy) String() string {
	switch p {
	case BulkUpdateUntrackedOnly:
		return "untracked-only"
	case BulkUpdateForbidden:
		return "forbidden"
	case BulkUpdateHistoryBlind:
		return "history-blind"
	default:
		return fmt.Sprintf("BulkUpdatePolicy(%d)", int(p))
	}
}

// ParseBulkUpdatePolicy maps a configuration string to a policy.
func ParseBulkUpdatePolicy(value string) (BulkUpdatePolicy, error) {
	switch value {
	case "", "untracked-only":
		return BulkUpdateUntrackedOnly, nil
	case "forbidden":
		return BulkUpdateForbidden, nil
	case "history-blind":
		return BulkUpdateHistoryBlind, nil
	default:
		return 0, fmt.Errorf("unknown bulk update policy %q", value)
	}
}

// ActivityType declares the metadata record linked to every tick of a type.
type ActivityType struct {
	Name string `validate:"required"`
	// Table is the caller-owned activity table referenced by the clock table.
	Table  string
	Refine QueryRefiner
}

// EntityType declares a clocked entity type.
type EntityType struct {
	Name        string          `validate:"required"`
	Table       string          `validate:"required"`
	Schema      string          // optional namespace for clock and history tables
	Columns     []domain.Column `validate:"required,min=1,dive"`
	Tracked     []string        `validate:"required,min=1,dive,required"`
	Activity    *ActivityType
	BulkUpdates BulkUpdatePolicy
}

// Registered is a validated entity type together with its physical layout.
type Registered struct {
	Type   EntityType
	Tables domain.TableSet

	tracked map[string]struct{}
}

// IsTracked reports whether column has field history.
func (r Registered) IsTracked(column string) bool {
	_, ok := r.tracked[column]
	return ok
}

// Registry maps type names to their declarations. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	types    map[string]Registered
	validate *validator.Validate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]Registered),
		validate: validator.New(),
	}
}

// Register validates typ and adds it to the registry.
func (r *Registry) Register(typ EntityType) error {
	if err := r.validate.Struct(typ); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidDeclaration, typ.Name, err)
	}
	if typ.Activity != nil {
		if err := r.validate.Struct(typ.Activity); err != nil {
			return fmt.Errorf("%w: %s activity: %v", domain.ErrInvalidDeclaration, typ.Name, err)
		}
	}

	registered, err := buildRegistered(typ)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[typ.Name]; exists {
		return fmt.Errorf("%w: type %s is already registered", domain.ErrInvalidDeclaration, typ.Name)
	}
	r.types[typ.Name] = registered
	return nil
}

// MustRegister is Register for package-level setup; it panics on error.
func (r *Registry) MustRegister(typ EntityType) {
	if err := r.Register(typ); err != nil {
		panic(err)
	}
}

// Lookup returns the registered type named name.
func (r *Registry) Lookup(name string) (Registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered, ok := r.types[name]
	if !ok {
		return Registered{}, fmt.Errorf("entity type %q: %w", name, domain.ErrNotFound)
	}
	return registered, nil
}

// Types returns every registered type sorted by name.
func (r *Registry) Types() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registered, 0, len(r.types))
	for _, registered := range r.types {
		out = append(out, registered)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type.Name < out[j].Type.Name })
	return out
}

func buildRegistered(typ EntityType) (Registered, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", domain.ErrInvalidDeclaration, typ.Name, fmt.Sprintf(format, args...))
	}

	if !identifierPattern.MatchString(typ.Table) {
		return Registered{}, invalid("table %q is not a valid identifier", typ.Table)
	}
	if typ.Schema != "" && !identifierPattern.MatchString(typ.Schema) {
		return Registered{}, invalid("schema %q is not a valid identifier", typ.Schema)
	}

	columns := make(map[string]domain.Column, len(typ.Columns))
	for _, column := range typ.Columns {
		if !identifierPattern.MatchString(column.Name) {
			return Registered{}, invalid("column %q is not a valid identifier", column.Name)
		}
		if _, reserved := reservedColumns[column.Name]; reserved {
			return Registered{}, invalid("column %q is reserved", column.Name)
		}
		if _, dup := columns[column.Name]; dup {
			return Registered{}, invalid("column %q is declared twice", column.Name)
		}
		columns[column.Name] = column
	}

	tables := domain.TableSet{
		Schema:  typ.Schema,
		Entity:  typ.Table,
		Columns: append([]domain.Column(nil), typ.Columns...),
		Clock:   domain.TruncateIdentifier(typ.Table + "_clock"),
		History: make(map[string]domain.HistoryTable, len(typ.Tracked)),
		Tracked: append([]string(nil), typ.Tracked...),
	}
	tracked := make(map[string]struct{}, len(typ.Tracked))
	for _, field := range typ.Tracked {
		column, ok := columns[field]
		if !ok {
			return Registered{}, invalid("%s is not a field on %s", field, typ.Table)
		}
		if _, reserved := reservedHistoryColumns[field]; reserved {
			return Registered{}, invalid("field %q clashes with a history column", field)
		}
		if _, dup := tracked[field]; dup {
			return Registered{}, invalid("field %q is tracked twice", field)
		}
		tracked[field] = struct{}{}
		tables.History[field] = domain.HistoryTable{
			Field: field,
			Table: domain.TruncateIdentifier(fmt.Sprintf("%s_history_%s", typ.Table, field)),
			Type:  column.Type,
		}
	}

	if typ.Activity != nil {
		tables.HasActivity = true
		if typ.Activity.Table != "" {
			if !identifierPattern.MatchString(typ.Activity.Table) {
				return Registered{}, invalid("activity table %q is not a valid identifier", typ.Activity.Table)
			}
			tables.ActivityTable = typ.Activity.Table
		}
	}

	return Registered{Type: typ, Tables: tables, tracked: tracked}, nil
}
