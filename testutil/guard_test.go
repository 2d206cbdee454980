package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingT struct {
	testing.TB
	msg string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "synopsis/internal/core", true},
		{InternalImportForbidden, "synopsis/pkg/domain", false},
		{InternalImportForbidden, "golang.org/x/tools/internal/event", false},
		{DomainImportForbidden, "synopsis/pkg/domain", true},
		{DomainImportForbidden, "synopsis/pkg/schema", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"x.go":      "package tmp\nimport \"synopsis/internal/core\"\nvar _ = core.Store(nil)\n",
		"x_test.go": "package tmp\nimport \"synopsis/internal/backup\"\n",
	})

	rec := &recordingT{TB: t}
	AssertNoDirectImports(rec, dir, InternalImportForbidden, "layering")
	if !strings.Contains(rec.msg, "synopsis/internal/core (in x.go)") {
		t.Fatalf("expected violation for x.go, got %q", rec.msg)
	}
	if strings.Contains(rec.msg, "backup") {
		t.Fatalf("test files must be ignored, got %q", rec.msg)
	}

	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestAssertModuleImportsWithin(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"a.go": "package tmp\nimport (\n\t\"fmt\"\n\t\"synopsis/pkg/domain\"\n\t\"synopsis/pkg/schema\"\n)\n",
	})
	AssertModuleImportsWithin(t, dir, "synopsis/pkg/domain", "synopsis/pkg/schema")

	rec := &recordingT{TB: t}
	AssertModuleImportsWithin(rec, dir, "synopsis/pkg/domain")
	if !strings.Contains(rec.msg, "synopsis/pkg/schema") {
		t.Fatalf("expected schema violation, got %q", rec.msg)
	}
}
