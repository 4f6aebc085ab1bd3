package service

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ip-sentry/backend/internal/database"
	"github.com/ip-sentry/backend/internal/models"
)

// setupTestDB creates an in-memory database with the full schema and wires
// it in as the global connection for the duration of the test.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get test database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}

	database.SetTestDB(db)
	t.Cleanup(database.ClearTestDB)
	return db
}

// setupBareTestDB creates an in-memory database without any tables, for
// exercising the catalog-missing degradation path.
func setupBareTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get test database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	database.SetTestDB(db)
	t.Cleanup(database.ClearTestDB)
	return db
}

func intPtr(v int) *int {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}

// seedLogs inserts n records for one IP with the given status, spread
// evenly across [start, start+spreadMs].
func seedLogs(t *testing.T, db *gorm.DB, ip string, n int, status int, path string, start, spreadMs int64) {
	t.Helper()

	logs := make([]models.AccessLog, 0, n)
	for i := 0; i < n; i++ {
		createdAt := start
		if n > 1 {
			createdAt = start + int64(i)*spreadMs/int64(n-1)
		}
		st := status
		logs = append(logs, models.AccessLog{
			IPAddress:  ip,
			Method:     "GET",
			URL:        "https://example.com" + path,
			Path:       path,
			StatusCode: &st,
			CreatedAt:  createdAt,
		})
	}
	if err := db.CreateInBatches(logs, 500).Error; err != nil {
		t.Fatalf("failed to seed logs: %v", err)
	}
}
