// Package testutil provides helpers for tests that enforce the package
// layering of the module.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// ModulePrefix is the import path prefix of every package in this module.
const ModulePrefix = "synopsis/"

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import path satisfies forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfDirectViolations(t, reason, viols)
}

// AssertModuleImportsWithin fails if a non-test file in dir imports a package
// of this module that is not listed in allowed.
func AssertModuleImportsWithin(t testing.TB, dir string, allowed ...string) {
	t.Helper()
	set := make(map[string]struct{}, len(allowed))
	for _, p := range allowed {
		set[p] = struct{}{}
	}
	AssertNoDirectImports(t, dir, func(p string) bool {
		if !strings.HasPrefix(p, ModulePrefix) {
			return false
		}
		_, ok := set[p]
		return !ok
	}, "only "+strings.Join(allowed, ", ")+" may be imported")
}

// InternalImportForbidden matches any import path below an internal/ directory.
func InternalImportForbidden(path string) bool {
	return strings.HasPrefix(path, ModulePrefix+"internal/")
}

// DomainImportForbidden matches the domain package.
func DomainImportForbidden(path string) bool {
	return path == ModulePrefix+"pkg/domain"
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfDirectViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
