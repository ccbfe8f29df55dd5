package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/mentorline.db" {
		t.Errorf("Expected DatabasePath './data/mentorline.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.WriteRetryDelay != 5*time.Second {
		t.Errorf("Expected WriteRetryDelay 5s, got %v", config.WriteRetryDelay)
	}
	if config.MigrationsPath != "" {
		t.Errorf("Expected embedded migrations by default, got %q", config.MigrationsPath)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"negative retry delay", func(c *Config) { c.WriteRetryDelay = -time.Second }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

// Functional Validation Tests - Migrations

func TestMigrationManager_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)

	source, err := MigrationSource("")
	if err != nil {
		t.Fatalf("MigrationSource failed: %v", err)
	}
	manager := NewMigrationManager(db, source)

	if err := manager.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	// Second run is a no-op
	if err := manager.ApplyMigrations(); err != nil {
		t.Fatalf("Re-applying migrations failed: %v", err)
	}

	versions, err := manager.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001" {
		t.Errorf("Expected [001], got %v", versions)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("Schema validation failed after migrations: %v", err)
	}
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"002_add_notes.sql": {Data: []byte("ALTER TABLE things ADD COLUMN note TEXT;")},
		"001_create.sql":    {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY);")},
		"README.md":         {Data: []byte("ignored")},
	}

	if err := NewMigrationManager(db, source).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if _, err := db.Exec("INSERT INTO things (id, note) VALUES (1, 'x')"); err != nil {
		t.Errorf("Expected both migrations applied in order: %v", err)
	}
}

func TestMigrationManager_FailedMigrationNotRecorded(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"001_broken.sql": {Data: []byte("CREATE TABLE broken (")},
	}
	manager := NewMigrationManager(db, source)

	if err := manager.ApplyMigrations(); err == nil {
		t.Fatal("Expected broken migration to fail")
	}

	versions, err := manager.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("Failed migration should not be recorded, got %v", versions)
	}
}

func TestMigrationSource_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_x.sql"), []byte("CREATE TABLE x (id INTEGER);"), 0o644); err != nil {
		t.Fatal(err)
	}

	source, err := MigrationSource(dir)
	if err != nil {
		t.Fatalf("MigrationSource failed: %v", err)
	}

	db := openTestDB(t)
	if err := NewMigrationManager(db, source).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if _, err := db.Exec("INSERT INTO x (id) VALUES (1)"); err != nil {
		t.Errorf("Directory migration not applied: %v", err)
	}
}

// Technical Validation Tests - Schema constraints

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	source, _ := MigrationSource("")
	if err := NewMigrationManager(db, source).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO chats (id, learner_id, instructor_id) VALUES ('c1', 'alice', 'bob')`); err != nil {
		t.Fatalf("Insert chat failed: %v", err)
	}

	tests := []struct {
		name  string
		query string
	}{
		{"duplicate pair", `INSERT INTO chats (id, learner_id, instructor_id) VALUES ('c2', 'alice', 'bob')`},
		{"self chat", `INSERT INTO chats (id, learner_id, instructor_id) VALUES ('c3', 'carol', 'carol')`},
		{"message for unknown chat", `INSERT INTO messages (id, chat_id, sender, text, created_at) VALUES ('m1', 'nope', 'alice', 'hi', CURRENT_TIMESTAMP)`},
		{"blank message text", `INSERT INTO messages (id, chat_id, sender, text, created_at) VALUES ('m2', 'c1', 'alice', '   ', CURRENT_TIMESTAMP)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.query); err == nil {
				t.Error("Expected constraint violation")
			}
		})
	}
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	if err := NewSchemaValidator(db).ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
}
