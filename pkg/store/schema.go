package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// CreateSchema creates the database schema if it doesn't exist.
func CreateSchema(db *sql.DB) error {
	if err := createSchemaVersionTable(db); err != nil {
		return errors.Wrap(err, "creating schema_version table")
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"images", `
			CREATE TABLE IF NOT EXISTS images (
				id TEXT PRIMARY KEY NOT NULL,
				size INTEGER NOT NULL
			)`},
		{"rules", `
			CREATE TABLE IF NOT EXISTS rules (
				id TEXT PRIMARY KEY NOT NULL,
				name TEXT NOT NULL,
				pattern TEXT NOT NULL,
				base_slot INTEGER NOT NULL DEFAULT 0,
				structural_id TEXT NOT NULL
			)`},
		{"matches", `
			CREATE TABLE IF NOT EXISTS matches (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				image_id TEXT NOT NULL REFERENCES images(id),
				rule_id TEXT NOT NULL,
				rule_name TEXT NOT NULL,
				structural_id TEXT NOT NULL UNIQUE,
				anchor TEXT NOT NULL,
				anchor_offset INTEGER NOT NULL,
				addresses_json TEXT NOT NULL
			)`},
		{"targets", `
			CREATE TABLE IF NOT EXISTS targets (
				image_id TEXT PRIMARY KEY NOT NULL REFERENCES images(id),
				kind TEXT NOT NULL,
				path TEXT,
				pid INTEGER,
				process TEXT,
				module TEXT,
				base TEXT NOT NULL,
				size INTEGER
			)`},
	}

	for _, table := range tables {
		if _, err := db.Exec(table.ddl); err != nil {
			return errors.Wrapf(err, "creating %s table", table.name)
		}
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_matches_image_id ON matches(image_id)`)
	return errors.Wrap(err, "creating matches index")
}

func createSchemaVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count)
	if err != nil {
		return err
	}

	if count == 0 {
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion)
		return err
	}

	var version int
	if err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return err
	}
	if version != SchemaVersion {
		return errors.Newf("unsupported schema version %d (want %d)", version, SchemaVersion)
	}
	return nil
}
