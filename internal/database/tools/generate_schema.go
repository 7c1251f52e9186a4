// Command generate_schema applies the SQLite migrations to a scratch database
// and writes the resulting DDL to internal/database/schema.sql.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"ftrack/internal/database"
	"ftrack/internal/database/migrations"
)

const header = `-- Generated from internal/database/migrations/files/sqlite by
-- 'go generate ./internal/database'. Edit the migrations, not this file.

`

func main() {
	out := flag.String("out", "internal/database/schema.sql", "output path")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *out)
}

func run(out string) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return fmt.Errorf("opening scratch database: %w", err)
	}
	defer db.Close()

	if err := migrations.MigrateUp(db, migrations.DialectSQLite); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	ddl, err := dumpDDL(db)
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte(header+ddl), 0644)
}

// dumpDDL lists tables before indexes and triggers, skipping sqlite
// internals and the golang-migrate bookkeeping table.
func dumpDDL(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql FROM sqlite_master
		WHERE sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 0 WHEN 'index' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return "", fmt.Errorf("reading sqlite_master: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning ddl: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), rows.Err()
}
