package seeder

import (
	"context"
	"fmt"
	"strings"

	"rental-sync/internal/database"
)

// EnsureTableColumns fails when the migrated schema lacks any of columns, so a
// seeder never runs against a stale database.
func EnsureTableColumns(ctx context.Context, db database.Querier, table string, columns ...string) error {
	if db == nil {
		return database.ErrNilDB
	}
	if table == "" {
		return fmt.Errorf("empty table")
	}

	rows, err := db.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema='public' AND table_name=$1`,
		table,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return err
		}
		existing[c] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var missing []string
	for _, col := range columns {
		if _, ok := existing[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema mismatch: %s is missing %s (run migrate first)", table, strings.Join(missing, ", "))
	}
	return nil
}
