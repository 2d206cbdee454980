package schema

import (
	"reflect"
	"strings"
	"sync"
	"testing"
)

func newEntityRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, name := range names {
		_, err := reg.Define(name,
			Column{Name: "id", Type: TypeInteger, PrimaryKey: true},
			Column{Name: "name", Type: TypeString, Length: 64, Unique: true, NotNull: true},
		)
		if err != nil {
			t.Fatalf("define %s: %v", name, err)
		}
	}
	return reg
}

func referencedTables(t *Table) []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.References != nil {
			out = append(out, c.References.Table)
		}
	}
	return out
}

func TestAssociationIsSymmetric(t *testing.T) {
	reg := newEntityRegistry(t, "hosts", "hostgroups")

	first := reg.Association("hosts", "hostgroups")
	second := reg.Association("hostgroups", "hosts")
	third := reg.Association("hosts", "hostgroups")

	if first != second || first != third {
		t.Fatalf("expected one relation for the pair, got %p %p %p", first, second, third)
	}
	if first.Name != "hosts_hostgroups" || !first.Junction {
		t.Fatalf("unexpected relation %+v", first)
	}
	if got := first.ColumnNames(); !reflect.DeepEqual(got, []string{"hosts_id", "hostgroups_id"}) {
		t.Fatalf("unexpected columns %v", got)
	}
	if got := referencedTables(first); !reflect.DeepEqual(got, []string{"hosts", "hostgroups"}) {
		t.Fatalf("unexpected references %v", got)
	}
	if n := len(reg.Junctions()); n != 1 {
		t.Fatalf("expected 1 junction, got %d", n)
	}
}

func TestAssociationNamedAfterFirstRequest(t *testing.T) {
	reg := newEntityRegistry(t, "services", "servicegroups")

	rel := reg.Association("servicegroups", "services")
	if rel.Name != "servicegroups_services" {
		t.Fatalf("unexpected name %q", rel.Name)
	}
	if reg.Association("services", "servicegroups") != rel {
		t.Fatalf("reverse lookup returned a different relation")
	}
}

func TestAssociationInterleavedPairs(t *testing.T) {
	reg := newEntityRegistry(t, "a", "b", "c")
	seen := map[string]*Table{}
	calls := [][2]string{{"a", "b"}, {"b", "c"}, {"b", "a"}, {"c", "a"}, {"c", "b"}, {"a", "c"}, {"a", "b"}}
	for _, c := range calls {
		rel := reg.Association(c[0], c[1])
		key := PairKey(c[0], c[1])
		if prev, ok := seen[key]; ok && prev != rel {
			t.Fatalf("pair %s resolved to two relations", key)
		}
		seen[key] = rel
	}
	if n := len(reg.Junctions()); n != 3 {
		t.Fatalf("expected 3 junctions, got %d", n)
	}

	var junctions int
	for _, tbl := range reg.Tables() {
		if tbl.Junction {
			junctions++
		}
	}
	if junctions != 3 {
		t.Fatalf("expected 3 junction tables, got %d", junctions)
	}
}

func TestAssociationSelfPair(t *testing.T) {
	reg := newEntityRegistry(t, "hosts")

	rel := reg.Association("hosts", "hosts")
	if reg.Association("hosts", "hosts") != rel {
		t.Fatalf("self pair not memoized")
	}
	if rel.Name != "hosts_hosts" {
		t.Fatalf("unexpected name %q", rel.Name)
	}
	if got := rel.ColumnNames(); !reflect.DeepEqual(got, []string{"hosts_id", "hosts_id_2"}) {
		t.Fatalf("unexpected columns %v", got)
	}
	if n := len(reg.Tables()); n != 2 {
		t.Fatalf("expected 2 tables, got %d", n)
	}
}

func TestAssociationUnderscoredNamesStayDistinct(t *testing.T) {
	reg := newEntityRegistry(t, "a_b", "c", "a", "b_c")

	left := reg.Association("a_b", "c")
	right := reg.Association("a", "b_c")
	if left == right {
		t.Fatalf("pairs {a_b, c} and {a, b_c} share relation %s", left.Name)
	}
	if left.Name != "a_b_c" || right.Name != "a_b_c_2" {
		t.Fatalf("unexpected names %q and %q", left.Name, right.Name)
	}
	if got := referencedTables(right); !reflect.DeepEqual(got, []string{"a", "b_c"}) {
		t.Fatalf("second relation references %v", got)
	}
	if reg.Association("b_c", "a") != right {
		t.Fatalf("reverse lookup returned a different relation")
	}
	if n := len(reg.Junctions()); n != 2 {
		t.Fatalf("expected 2 junctions, got %d", n)
	}
}

func TestAssociationDoesNotReplaceEntityTable(t *testing.T) {
	reg := newEntityRegistry(t, "hosts", "groups", "hosts_groups")
	entity, _ := reg.Table("hosts_groups")

	rel := reg.Association("hosts", "groups")
	if rel == entity || rel.Name != "hosts_groups_2" {
		t.Fatalf("unexpected relation %q", rel.Name)
	}
	if got, _ := reg.Table("hosts_groups"); got != entity || got.Junction {
		t.Fatalf("entity table was replaced")
	}
	if n := len(reg.Tables()); n != 4 {
		t.Fatalf("expected 4 tables, got %d", n)
	}
}

func TestAssociationConcurrentFirstUse(t *testing.T) {
	reg := newEntityRegistry(t, "hosts", "hostgroups")

	const workers = 32
	results := make([]*Table, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				results[i] = reg.Association("hosts", "hostgroups")
			} else {
				results[i] = reg.Association("hostgroups", "hosts")
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different relation", i)
		}
	}
	if n := len(reg.Tables()); n != 3 {
		t.Fatalf("expected 3 tables, got %d", n)
	}
}

func TestDefineRejectsDuplicates(t *testing.T) {
	reg := newEntityRegistry(t, "hosts")
	if _, err := reg.Define("hosts"); err == nil {
		t.Fatalf("expected duplicate table error")
	}
	if _, err := reg.Define(" "); err == nil {
		t.Fatalf("expected blank name error")
	}
}

func TestKeyColumns(t *testing.T) {
	reg := newEntityRegistry(t, "hosts", "hostgroups")
	hosts, ok := reg.Table("hosts")
	if !ok {
		t.Fatalf("hosts not registered")
	}
	if got := hosts.KeyColumns(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("unexpected entity key %v", got)
	}

	rel := reg.Association("hosts", "hostgroups")
	if got := rel.KeyColumns(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("unexpected junction key %v", got)
	}
}

func TestCreateStatementsOrdersDependencies(t *testing.T) {
	reg := NewRegistry()
	// junction requested before one side is defined
	if _, err := reg.Define("hosts", Column{Name: "id", Type: TypeInteger, PrimaryKey: true}); err != nil {
		t.Fatalf("define hosts: %v", err)
	}
	reg.Association("hostgroups", "hosts")
	if _, err := reg.Define("hostgroups", Column{Name: "id", Type: TypeInteger, PrimaryKey: true}); err != nil {
		t.Fatalf("define hostgroups: %v", err)
	}

	stmts := reg.CreateStatements(SQLite)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(stmts))
	}
	var order []string
	for _, stmt := range stmts {
		order = append(order, strings.Fields(stmt)[5])
	}
	if want := []string{"hosts", "hostgroups", "hostgroups_hosts"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
}

func TestCreateAllRendersConstraints(t *testing.T) {
	reg := newEntityRegistry(t, "hosts", "hostgroups")
	reg.Association("hosts", "hostgroups")

	sqlite := reg.CreateAll(SQLite)
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS hosts (",
		"id INTEGER PRIMARY KEY",
		"name VARCHAR(64) NOT NULL",
		"CONSTRAINT hosts_name_key UNIQUE (name)",
		"CONSTRAINT hosts_hostgroups_hosts_id_fkey FOREIGN KEY (hosts_id) REFERENCES hosts (id)",
	} {
		if !strings.Contains(sqlite, want) {
			t.Fatalf("sqlite ddl missing %q:\n%s", want, sqlite)
		}
	}

	pg := reg.CreateAll(Postgres)
	for _, want := range []string{"id BIGINT PRIMARY KEY", "hostgroups_id BIGINT"} {
		if !strings.Contains(pg, want) {
			t.Fatalf("postgres ddl missing %q:\n%s", want, pg)
		}
	}

	stmts := SplitStatements(sqlite)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 split statements, got %d", len(stmts))
	}
	for _, stmt := range stmts {
		if !strings.HasSuffix(stmt, ";") {
			t.Fatalf("statement %q is not terminated", stmt)
		}
	}
}

func TestLogicalReferencesAreNotRendered(t *testing.T) {
	reg := newEntityRegistry(t, "hosts")
	_, err := reg.Define("services",
		Column{Name: "id", Type: TypeInteger, PrimaryKey: true},
		Column{Name: "host_id", Type: TypeInteger, References: &ForeignKey{Table: "hosts", Column: "id", Logical: true}},
	)
	if err != nil {
		t.Fatalf("define services: %v", err)
	}
	services, _ := reg.Table("services")
	if refs := services.References(); len(refs) != 0 {
		t.Fatalf("logical reference rendered as %v", refs)
	}
	if strings.Contains(reg.CreateAll(SQLite), "services_host_id_fkey") {
		t.Fatalf("logical reference rendered in ddl")
	}
}

func TestPlaceholders(t *testing.T) {
	cases := []struct{ got, want string }{
		{SQLite.Placeholder(3), "?"},
		{Postgres.Placeholder(3), "$3"},
		{ConstraintName("hosts", "id", SuffixPrimaryKey), "hosts_pkey"},
		{ConstraintName("hosts", "name", SuffixNotNull), "hosts_name_not_null"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, tc.got)
		}
	}
}
