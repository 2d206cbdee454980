package sqlite

import (
	"testing"

	"synopsis/testutil"
)

func TestImportsStayInPersistenceLayer(t *testing.T) {
	testutil.AssertModuleImportsWithin(t, ".",
		"synopsis/pkg/domain",
		"synopsis/pkg/schema",
		"synopsis/internal/infra/persistence/memory",
		"synopsis/internal/infra/persistence/sqldb",
	)
}
