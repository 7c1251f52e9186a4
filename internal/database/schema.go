package database

import _ "embed"

// Schema is the SQLite schema produced by applying every migration. Tests use
// it to set up an in-memory database without running golang-migrate.
//
//go:embed schema.sql
var Schema string
