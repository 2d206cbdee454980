// Package schema describes the relational tables backing the inventory model:
// entity tables, their columns and constraints, and the junction relations
// that carry many-to-many edges between entity types.
//
// A Registry owns every table definition. Junction relations are created on
// demand by Registry.Association, which guarantees a single relation per
// unordered pair of table names regardless of the order callers ask for it.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ColumnType is the storage-neutral type of a column.
type ColumnType string

// Supported column types.
const (
	TypeInteger ColumnType = "integer"
	TypeString  ColumnType = "string"
)

// ForeignKey points a column at the key column of another table.
type ForeignKey struct {
	Table  string
	Column string
	// Logical references are checked by the integrity layer on write but are
	// not rendered as storage constraints, so dependent rows may outlive the
	// referenced row.
	Logical bool
}

// Column describes a single stored attribute.
type Column struct {
	Name       string
	Type       ColumnType
	Length     int
	PrimaryKey bool
	Unique     bool
	NotNull    bool
	References *ForeignKey
}

// Table is a named relation. Junction tables carry exactly two foreign-key
// columns and no surrogate key; their key is the column pair.
type Table struct {
	Name     string
	Columns  []Column
	Junction bool
}

// Column returns the named column definition.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames lists column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumns returns the indexes of the columns identifying a row: the
// primary key for entity tables, every column for junction tables.
func (t *Table) KeyColumns() []int {
	var idx []int
	for i, c := range t.Columns {
		if c.PrimaryKey {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		for i := range t.Columns {
			idx = append(idx, i)
		}
	}
	return idx
}

// References lists the distinct tables this table points at.
func (t *Table) References() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range t.Columns {
		if c.References == nil || c.References.Logical {
			continue
		}
		if _, ok := seen[c.References.Table]; ok {
			continue
		}
		seen[c.References.Table] = struct{}{}
		out = append(out, c.References.Table)
	}
	return out
}

// Registry holds one definition per entity table and one junction relation
// per unordered pair of table names. It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	tables    map[string]*Table
	order     []string
	junctions map[string]*Table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:    make(map[string]*Table),
		junctions: make(map[string]*Table),
	}
}

// Define registers an entity table. Defining the same name twice is an error.
func (r *Registry) Define(name string, columns ...Column) (*Table, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("schema: table name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[name]; exists {
		return nil, fmt.Errorf("schema: table %q already defined", name)
	}
	t := &Table{Name: name, Columns: append([]Column(nil), columns...)}
	r.register(t)
	return t, nil
}

// Table looks up a registered table by name.
func (r *Registry) Table(name string) (*Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns every registered table in registration order.
func (r *Registry) Tables() []*Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// Association returns the junction relation for the unordered pair (a, b),
// creating it on first use. Later calls with either ordering return the
// identical *Table. The relation is named "a_b"; when that name already
// belongs to another table a numeric suffix keeps the pairs apart.
func (r *Registry) Association(a, b string) *Table {
	key := PairKey(a, b)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.junctions[key]; ok {
		return t
	}
	left := a + "_id"
	right := b + "_id"
	if left == right {
		right += "_2"
	}
	t := &Table{
		Name:     r.freeName(a + "_" + b),
		Junction: true,
		Columns: []Column{
			{Name: left, Type: TypeInteger, References: &ForeignKey{Table: a, Column: "id"}},
			{Name: right, Type: TypeInteger, References: &ForeignKey{Table: b, Column: "id"}},
		},
	}
	r.register(t)
	r.junctions[key] = t
	return t
}

func (r *Registry) freeName(base string) string {
	name := base
	for n := 2; ; n++ {
		if _, taken := r.tables[name]; !taken {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}

// Junctions returns the junction relations created so far, keyed by their
// canonical pair key.
func (r *Registry) Junctions() map[string]*Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Table, len(r.junctions))
	for k, t := range r.junctions {
		out[k] = t
	}
	return out
}

func (r *Registry) register(t *Table) {
	r.tables[t.Name] = t
	r.order = append(r.order, t.Name)
}

// PairKey is the order-independent identifier of an unordered pair of table
// names.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}
