package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	chstore "delta-keeper/internal/storage/clickhouse"
)

// Schema for the analytics tier: decision history and funding-rate
// samples.
//
//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// ApplyClickhouse creates the database named by the DSN if it does
// not exist, runs the embedded schema files in lexical order, and
// returns a connection bound to that database for the stores to
// reuse.
func ApplyClickhouse(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := dsnDatabase(dsn)
	if err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	files, err := sqlFiles(clickhouseFS, "clickhouse")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read embedded clickhouse schema: %w", err)
	}
	for _, name := range files {
		data, err := fs.ReadFile(clickhouseFS, name)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		stmts, err := statements(string(data))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("split %s: %w", name, err)
		}
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply %s: %w", name, err)
			}
		}
	}
	return conn, nil
}

// ensureDatabase issues CREATE DATABASE IF NOT EXISTS over a
// connection with no database selected, since the target one may not
// exist yet.
func ensureDatabase(ctx context.Context, dsn, name string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+name); err != nil {
		admin.Close()
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return admin.Close()
}

// statements splits a schema file into single statements on
// semicolons; the native driver runs one statement per Exec. The
// split is line-based and deliberately naive: comment lines must use
// the -- form, and input carrying a semicolon inside a quoted literal
// is rejected rather than mis-split.
func statements(sql string) ([]string, error) {
	if i := quotedSemicolon(sql); i >= 0 {
		return nil, fmt.Errorf("semicolon inside a string literal at byte %d", i)
	}

	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var out []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}

// quotedSemicolon returns the index of the first semicolon inside a
// single-quoted literal, or -1. A doubled quote escapes per SQL
// rules.
func quotedSemicolon(sql string) int {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return i
			}
		}
	}
	return -1
}

func dsnDatabase(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("clickhouse dsn %q names no database", dsn)
	}
	return name, nil
}
