package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the schema for quiz sessions, answers and question banks.
// Each version file registers itself; bun derives the version from the file name.
var Migrations = migrate.NewMigrations()
