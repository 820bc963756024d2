// Package db embeds the goose migration set so cmd/docuflow can run
// them without shelling out to the goose CLI.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
