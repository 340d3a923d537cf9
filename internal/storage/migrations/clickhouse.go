package migrations

import (
	"context"
	"fmt"

	chstore "github.com/vuittont60/scope/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the history database if needed and brings
// the price history schema up to date. database follows
// chstore.ResolveDatabase: empty means the DSN path. The returned connection
// is bound to that database.
func RunClickhouseMigrations(ctx context.Context, dsn, database string) (*chstore.Conn, error) {
	dbName, err := chstore.ResolveDatabase(dsn, database)
	if err != nil {
		return nil, err
	}
	all, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+dbName+"`")
	admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", dbName, err)
	}
	if err := applyClickhouse(ctx, conn, all); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// applyClickhouse runs every pending version. ClickHouse DDL is not
// transactional, so the version row is written after the last statement
// and the schema files use IF NOT EXISTS to survive a partial run.
func applyClickhouse(ctx context.Context, conn *chstore.Conn, all []migration) error {
	if err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
		version    UInt32,
		name       String,
		applied_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree()
	ORDER BY version`); err != nil {
		return fmt.Errorf("create %s: %w", versionTable, err)
	}

	rows, err := conn.Query(ctx, `SELECT DISTINCT version FROM `+versionTable)
	if err != nil {
		return fmt.Errorf("read %s: %w", versionTable, err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("read %s: %w", versionTable, err)
		}
		applied[int(v)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read %s: %w", versionTable, err)
	}

	for _, m := range pending(all, applied) {
		for _, stmt := range m.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply clickhouse migration %03d_%s: %w", m.Version, m.Name, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO `+versionTable+` (version, name) VALUES (?, ?)`,
			uint32(m.Version), m.Name); err != nil {
			return fmt.Errorf("record clickhouse migration %03d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}
