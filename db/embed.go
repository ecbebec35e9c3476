// Package db embeds the database schema.
package db

import _ "embed"

// Schema contains the DDL for the catalog, discount and order tables.
//
//go:embed migrations/001_schema.sql
var Schema string
