package database

import "embed"

// MigrationsFS содержит SQL-миграции схемы хранилища ходов.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsPath - каталог миграций внутри MigrationsFS.
const MigrationsPath = "migrations"
