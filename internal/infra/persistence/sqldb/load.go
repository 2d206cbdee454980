package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"synopsis/internal/infra/persistence/memory"
	"synopsis/pkg/domain"
)

// Load reads every inventory table into a snapshot suitable for
// memory.Store.ImportState.
func Load(ctx context.Context, db *sql.DB, s *domain.Schema) (memory.Snapshot, error) {
	snap := memory.Snapshot{Sequences: make(map[domain.EntityType]int64)}

	err := query(ctx, db, s.Hosts.Name, s.Hosts.ColumnNames(), func(rows *sql.Rows) error {
		var r domain.HostRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Endpoint); err != nil {
			return err
		}
		snap.Hosts = append(snap.Hosts, r)
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = query(ctx, db, s.Services.Name, s.Services.ColumnNames(), func(rows *sql.Rows) error {
		var (
			r      domain.ServiceRecord
			hostID sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &hostID, &r.Name, &r.Alias); err != nil {
			return err
		}
		if hostID.Valid {
			r.HostID = domain.IDRef(hostID.Int64)
		}
		snap.Services = append(snap.Services, r)
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	groups := func(table string, cols []string, out *[]domain.GroupRecord) error {
		return query(ctx, db, table, cols, func(rows *sql.Rows) error {
			var r domain.GroupRecord
			if err := rows.Scan(&r.ID, &r.Name); err != nil {
				return err
			}
			*out = append(*out, r)
			return nil
		})
	}
	if err := groups(s.HostGroups.Name, s.HostGroups.ColumnNames(), &snap.HostGroups); err != nil {
		return memory.Snapshot{}, err
	}
	if err := groups(s.ServiceGroups.Name, s.ServiceGroups.ColumnNames(), &snap.ServiceGroups); err != nil {
		return memory.Snapshot{}, err
	}

	links := func(entity domain.EntityType, out *[]domain.Link) error {
		member, group := s.LinkColumns(entity)
		return query(ctx, db, s.Table(entity).Name, []string{member, group}, func(rows *sql.Rows) error {
			var l domain.Link
			if err := rows.Scan(&l.Left, &l.Right); err != nil {
				return err
			}
			*out = append(*out, l)
			return nil
		})
	}
	if err := links(domain.EntityHostMembership, &snap.HostMemberships); err != nil {
		return memory.Snapshot{}, err
	}
	if err := links(domain.EntityServiceMembership, &snap.ServiceMemberships); err != nil {
		return memory.Snapshot{}, err
	}

	err = query(ctx, db, SequencesTable, []string{"name", "value"}, func(rows *sql.Rows) error {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		snap.Sequences[domain.EntityType(name)] = value
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}
	return snap, nil
}

func query(ctx context.Context, db *sql.DB, table string, cols []string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table))
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}
