package schema

import (
	"bufio"
	"fmt"
	"strings"
)

// Dialect selects SQL rendering rules for a storage engine.
type Dialect string

// Supported SQL dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Placeholder returns the bind parameter marker for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Constraint name suffixes, following the Postgres naming convention.
const (
	SuffixPrimaryKey = "pkey"
	SuffixUnique     = "key"
	SuffixNotNull    = "not_null"
	SuffixForeignKey = "fkey"
	SuffixCheck      = "check"
)

// ConstraintName builds the canonical name of a column constraint.
func ConstraintName(table, column, suffix string) string {
	if suffix == SuffixPrimaryKey {
		return table + "_" + SuffixPrimaryKey
	}
	return table + "_" + column + "_" + suffix
}

// CreateStatements renders idempotent CREATE TABLE statements for every
// registered table, referenced tables first.
func (r *Registry) CreateStatements(d Dialect) []string {
	tables := orderByDependency(r.Tables())
	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		stmts = append(stmts, createTable(d, t))
	}
	return stmts
}

// CreateAll renders the full DDL script for the registry.
func (r *Registry) CreateAll(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- synopsis schema (%s)\n", d)
	for _, stmt := range r.CreateStatements(d) {
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	return b.String()
}

func createTable(d Dialect, t *Table) string {
	var lines []string
	for _, c := range t.Columns {
		lines = append(lines, "\t"+columnDefinition(d, c))
	}
	for _, c := range t.Columns {
		if c.Unique && !c.PrimaryKey {
			lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s UNIQUE (%s)", ConstraintName(t.Name, c.Name, SuffixUnique), c.Name))
		}
	}
	for _, c := range t.Columns {
		if c.References == nil || c.References.Logical {
			continue
		}
		lines = append(lines, fmt.Sprintf("\tCONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			ConstraintName(t.Name, c.Name, SuffixForeignKey), c.Name, c.References.Table, c.References.Column))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", t.Name, strings.Join(lines, ",\n"))
}

func columnDefinition(d Dialect, c Column) string {
	var typ string
	switch c.Type {
	case TypeInteger:
		typ = "INTEGER"
		if d == Postgres {
			typ = "BIGINT"
		}
	case TypeString:
		typ = "TEXT"
		if c.Length > 0 {
			typ = fmt.Sprintf("VARCHAR(%d)", c.Length)
		}
	default:
		typ = "TEXT"
	}
	def := c.Name + " " + typ
	if c.PrimaryKey {
		return def + " PRIMARY KEY"
	}
	if c.NotNull {
		def += " NOT NULL"
	}
	return def
}

// orderByDependency sorts tables so that every table follows the tables it
// references. Registration order is kept among independent tables.
func orderByDependency(tables []*Table) []*Table {
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	var out []*Table
	visited := make(map[string]bool, len(tables))
	var visit func(t *Table)
	visit = func(t *Table) {
		if visited[t.Name] {
			return
		}
		visited[t.Name] = true
		for _, ref := range t.References() {
			if dep, ok := byName[ref]; ok {
				visit(dep)
			}
		}
		out = append(out, t)
	}
	for _, t := range tables {
		visit(t)
	}
	return out
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
