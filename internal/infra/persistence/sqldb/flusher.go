// Package sqldb writes committed inventory change sets to a relational
// database and reads the tables back into a memory snapshot. The sqlite and
// postgres stores share it and differ only in driver and dialect.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synopsis/pkg/domain"
	"synopsis/pkg/schema"
)

// SequencesTable keeps the next-id counters so ids are never reused across
// restarts.
const SequencesTable = "synopsis_sequences"

var _ domain.Flusher = (*Flusher)(nil)

// Flusher applies change sets to the tables of a schema.
type Flusher struct {
	db      *sql.DB
	schema  *domain.Schema
	dialect schema.Dialect
	log     logrus.FieldLogger
}

// NewFlusher binds a flusher to db.
func NewFlusher(db *sql.DB, s *domain.Schema, dialect schema.Dialect, logger logrus.FieldLogger) *Flusher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Flusher{db: db, schema: s, dialect: dialect, log: logger.WithField("dialect", string(dialect))}
}

// Migrate creates every table of the schema plus the sequence table.
func Migrate(ctx context.Context, db *sql.DB, s *domain.Schema, dialect schema.Dialect) error {
	stmts := s.Registry.CreateStatements(dialect)
	stmts = append(stmts, sequencesDDL(dialect))
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func sequencesDDL(d schema.Dialect) string {
	valueType := "INTEGER"
	if d == schema.Postgres {
		valueType = "BIGINT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    name TEXT PRIMARY KEY,\n    value %s NOT NULL\n);", SequencesTable, valueType)
}

// Flush writes cs in one database transaction. Junction deletes run first
// and junction inserts last so the foreign keys hold at every statement.
// Unique values given up by updates are parked before any row is written,
// because both drivers check uniqueness per statement and the change set is
// only known to be unique as a whole.
func (f *Flusher) Flush(ctx context.Context, cs domain.ChangeSet) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	phases := f.phases(cs.Changes)
	if err := f.park(ctx, tx, phases[2]); err != nil {
		return err
	}
	for _, phase := range phases {
		for _, c := range phase {
			if err := f.apply(ctx, tx, c); err != nil {
				f.log.WithError(err).WithField("entity", c.Entity).Debug("flush statement failed")
				return fmt.Errorf("%s %s: %w", c.Action, c.Entity, constraintError(err))
			}
		}
	}
	for _, entity := range domain.EntityTypes() {
		value, ok := cs.Sequences[entity]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, f.upsertSequence(), string(entity), value); err != nil {
			return fmt.Errorf("upsert sequence %s: %w", entity, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	f.log.WithField("changes", len(cs.Changes)).Debug("flushed change set")
	return nil
}

func (f *Flusher) phases(changes []domain.Change) [4][]domain.Change {
	var out [4][]domain.Change
	for _, c := range changes {
		junction := isJunction(c.Entity)
		switch {
		case junction && c.Action == domain.ActionDelete:
			out[0] = append(out[0], c)
		case !junction && c.Action == domain.ActionDelete:
			out[1] = append(out[1], c)
		case !junction:
			out[2] = append(out[2], c)
		default:
			out[3] = append(out[3], c)
		}
	}
	return out
}

// park moves every unique value an update gives up onto a placeholder, so
// swaps and renames into a vacated name succeed in any statement order.
func (f *Flusher) park(ctx context.Context, tx *sql.Tx, changes []domain.Change) error {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	for _, c := range changes {
		if c.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := c.Before.(domain.Record)
		after, okAfter := c.After.(domain.Record)
		tbl := f.schema.Table(c.Entity)
		if !okBefore || !okAfter || tbl == nil {
			continue
		}
		was, now := before.Values(), after.Values()
		for i, col := range tbl.Columns {
			if !col.Unique || col.PrimaryKey || was[i] == now[i] {
				continue
			}
			stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE id = %s",
				tbl.Name, col.Name, f.dialect.Placeholder(1), f.dialect.Placeholder(2))
			parked := fmt.Sprintf("~%d.%s", before.RecordID(), token)
			if _, err := tx.ExecContext(ctx, stmt, parked, before.RecordID()); err != nil {
				return fmt.Errorf("park %s.%s: %w", tbl.Name, col.Name, constraintError(err))
			}
		}
	}
	return nil
}

func isJunction(entity domain.EntityType) bool {
	return entity == domain.EntityHostMembership || entity == domain.EntityServiceMembership
}

func (f *Flusher) apply(ctx context.Context, tx *sql.Tx, c domain.Change) error {
	tbl := f.schema.Table(c.Entity)
	if tbl == nil {
		return fmt.Errorf("no table for %s", c.Entity)
	}
	if isJunction(c.Entity) {
		link, ok := c.Row().(domain.Link)
		if !ok {
			return fmt.Errorf("unexpected row %T", c.Row())
		}
		member, group := f.schema.LinkColumns(c.Entity)
		var stmt string
		if c.Action == domain.ActionDelete {
			stmt = fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
				tbl.Name, member, f.dialect.Placeholder(1), group, f.dialect.Placeholder(2))
		} else {
			stmt = fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
				tbl.Name, member, group, f.dialect.Placeholder(1), f.dialect.Placeholder(2))
		}
		_, err := tx.ExecContext(ctx, stmt, link.Left, link.Right)
		return err
	}

	rec, ok := c.Row().(domain.Record)
	if !ok {
		return fmt.Errorf("unexpected row %T", c.Row())
	}
	cols := tbl.ColumnNames()
	values := rec.Values()
	switch c.Action {
	case domain.ActionCreate:
		marks := make([]string, len(cols))
		for i := range cols {
			marks[i] = f.dialect.Placeholder(i + 1)
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl.Name, strings.Join(cols, ", "), strings.Join(marks, ", "))
		_, err := tx.ExecContext(ctx, stmt, values...)
		return err
	case domain.ActionUpdate:
		sets := make([]string, 0, len(cols)-1)
		args := make([]any, 0, len(cols))
		for i, col := range cols[1:] {
			sets = append(sets, fmt.Sprintf("%s = %s", col, f.dialect.Placeholder(i+1)))
			args = append(args, values[i+1])
		}
		args = append(args, rec.RecordID())
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", tbl.Name, strings.Join(sets, ", "), f.dialect.Placeholder(len(args)))
		_, err := tx.ExecContext(ctx, stmt, args...)
		return err
	case domain.ActionDelete:
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", tbl.Name, f.dialect.Placeholder(1)), rec.RecordID())
		return err
	}
	return fmt.Errorf("unknown action %q", c.Action)
}

func (f *Flusher) upsertSequence() string {
	return fmt.Sprintf("INSERT INTO %s (name, value) VALUES (%s, %s) ON CONFLICT (name) DO UPDATE SET value = excluded.value",
		SequencesTable, f.dialect.Placeholder(1), f.dialect.Placeholder(2))
}
