package testutil

import (
	"testing"

	"ftrack/internal/database"
	"ftrack/internal/ft"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) ft.Database {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if _, err := sqlDB.Exec(database.Schema); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// NewTestCatalog creates a CatalogService over a fresh test database with a
// fixed clock and sequential IDs.
func NewTestCatalog(t *testing.T) (*ft.CatalogService, *StubClock) {
	t.Helper()

	clock := FixedClock()
	catalog := ft.NewCatalogService(NewTestDatabase(t), ft.NewNopLogger(), clock, NewStubIDGenerator(), ft.DefaultCatalogOptions())
	return catalog, clock
}
