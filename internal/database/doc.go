// Package database provides the PostgreSQL connection pool and schema migrations.
//
// Schema lives in migrations/*.sql, embedded into the binary and applied with
// golang-migrate when database.migrate is enabled.
package database
