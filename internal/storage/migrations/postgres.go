// Package migrations carries the embedded schema for both storage
// tiers and applies it at keeper startup. Every file is written to be
// rerun safely, so a restart against an already-migrated database is
// a no-op.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"delta-keeper/internal/storage/postgres"
)

// Schema for the live state tier: the open-position mirror and the
// trade journal.
//
//go:embed postgres/*.sql
var postgresFS embed.FS

// ApplyPostgres runs the embedded Postgres schema files in lexical
// order on the given pool.
func ApplyPostgres(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(postgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres schema: %w", err)
	}

	for _, name := range files {
		data, err := fs.ReadFile(postgresFS, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		sql := strings.TrimSpace(string(data))
		if sql == "" {
			continue
		}
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// sqlFiles lists the .sql entries under dir in the embedded tree,
// sorted so the NNN_ prefixes dictate application order.
func sqlFiles(fsys embed.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, dir+"/"+e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
