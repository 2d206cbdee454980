package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestInfraImportsStayBehindFacades ensures infra packages are only reached
// through their facades: blob drivers through this package and persistence
// backends through the core service layer and the CLI.
func TestInfraImportsStayBehindFacades(t *testing.T) {
	rules := []struct {
		infra   string
		allowed []string
	}{
		{infra: "synopsis/internal/infra/blob", allowed: []string{"synopsis/internal/blob"}},
		{infra: "synopsis/internal/infra/persistence", allowed: []string{
			"synopsis/internal/core",
			"synopsis/internal/backup",
			"synopsis/cmd/synopsis",
		}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "synopsis/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, rule := range rules {
			if hasPrefix(pkg.PkgPath, rule.infra) || allowed(pkg.PkgPath, rule.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPrefix(importPath, rule.infra) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func allowed(pkgPath string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPrefix(pkgPath, p) {
			return true
		}
	}
	return false
}

func hasPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
