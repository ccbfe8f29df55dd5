package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"chats":             "Chat sessions",
	"messages":          "Chat messages",
	"message_seen":      "Per-identity seen marks",
	"call_records":      "Call history",
	"presence":          "Last-active timestamps",
	"schema_migrations": "Migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_chats_learner":         "Chats by learner",
	"idx_chats_instructor":      "Chats by instructor",
	"idx_messages_chat":         "Chat history and unseen scans",
	"idx_message_seen_identity": "Seen marks by identity",
	"idx_call_records_pair":     "Call dedup lookups",
	"idx_call_records_receiver": "Call history by receiver",
}

// Validate runs every structural check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column types match what the store scans into
// TECHNICAL DISCOVERY: DATETIME declarations matter, the sqlite3 driver only
// converts columns declared as DATETIME/TIMESTAMP back into time.Time
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"chats": {
			"id":                      "TEXT",
			"learner_id":              "TEXT",
			"instructor_id":           "TEXT",
			"last_message":            "TEXT",
			"last_message_at":         "DATETIME",
			"learner_last_seen_at":    "DATETIME",
			"instructor_last_seen_at": "DATETIME",
			"created_at":              "DATETIME",
		},
		"messages": {
			"id":         "TEXT",
			"chat_id":    "TEXT",
			"sender":     "TEXT",
			"text":       "TEXT",
			"created_at": "DATETIME",
			"deleted":    "INTEGER",
		},
		"call_records": {
			"id":          "INTEGER",
			"room_id":     "TEXT",
			"caller_id":   "TEXT",
			"receiver_id": "TEXT",
			"started_at":  "DATETIME",
			"ended_at":    "DATETIME",
		},
	}

	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, typ := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != typ {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, typ)
		}
	}
	return nil
}
