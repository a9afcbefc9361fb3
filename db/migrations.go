package db

import "embed"

// Migrations holds the goose SQL files so the binary can migrate without a
// checkout of the repository.
//
//go:embed migrations/*.sql
var Migrations embed.FS
