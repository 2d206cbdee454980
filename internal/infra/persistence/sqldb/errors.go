package sqldb

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"synopsis/pkg/domain"
	"synopsis/pkg/schema"
)

var pgConstraintKinds = map[string]domain.ConstraintKind{
	"23505": domain.ConstraintUnique,
	"23502": domain.ConstraintNotNull,
	"23503": domain.ConstraintForeignKey,
	"23514": domain.ConstraintCheck,
}

var sqliteConstraintKinds = map[int]domain.ConstraintKind{
	sqlite3.SQLITE_CONSTRAINT_UNIQUE:     domain.ConstraintUnique,
	sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY: domain.ConstraintUnique,
	sqlite3.SQLITE_CONSTRAINT_NOTNULL:    domain.ConstraintNotNull,
	sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY: domain.ConstraintForeignKey,
	sqlite3.SQLITE_CONSTRAINT_CHECK:      domain.ConstraintCheck,
}

var constraintSuffixes = map[domain.ConstraintKind]string{
	domain.ConstraintUnique:     schema.SuffixUnique,
	domain.ConstraintNotNull:    schema.SuffixNotNull,
	domain.ConstraintForeignKey: schema.SuffixForeignKey,
	domain.ConstraintCheck:      schema.SuffixCheck,
}

// constraintError turns a driver constraint failure into a
// *domain.IntegrityError. Other errors are returned unchanged.
func constraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind, ok := pgConstraintKinds[pgErr.Code]
		if !ok {
			return err
		}
		column := pgErr.ColumnName
		if column == "" {
			column = columnOf(pgErr.TableName, pgErr.ConstraintName, constraintSuffixes[kind])
		}
		return &domain.IntegrityError{Kind: kind, Constraint: pgErr.ConstraintName, Table: pgErr.TableName, Column: column}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		kind, ok := sqliteConstraintKinds[liteErr.Code()]
		if !ok {
			return err
		}
		table, column := sqliteTarget(liteErr.Error())
		constraint := ""
		if table != "" {
			constraint = schema.ConstraintName(table, column, constraintSuffixes[kind])
			if liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
				constraint = schema.ConstraintName(table, column, schema.SuffixPrimaryKey)
			}
		}
		return &domain.IntegrityError{Kind: kind, Constraint: constraint, Table: table, Column: column}
	}
	return err
}

// columnOf recovers the column from a constraint named table_column_suffix.
func columnOf(table, constraint, suffix string) string {
	column := strings.TrimPrefix(constraint, table+"_")
	return strings.TrimSuffix(column, "_"+suffix)
}

// sqliteTarget extracts "table.column" from messages such as
// "UNIQUE constraint failed: hosts.name (2067)".
func sqliteTarget(msg string) (string, string) {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return "", ""
	}
	target := strings.Fields(msg[i+len(marker):])
	if len(target) == 0 {
		return "", ""
	}
	table, column, ok := strings.Cut(strings.TrimSuffix(target[0], ","), ".")
	if !ok {
		return "", ""
	}
	return table, column
}
