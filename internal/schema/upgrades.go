package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// upgradeStep is one ordered schema migration. run executes inside one
// private-cache transaction and one shared-database transaction; both commit
// or both roll back. The two commits are not atomic with each other, so
// every step must be idempotent: a crash between them is recovered by
// re-running the step on the next open.
type upgradeStep struct {
	from Version
	to   Version
	name string
	run  func(ctx context.Context, priv, shared *sql.Tx) error
}

// upgradeSteps lists every migration in order. A step applies when the
// effective stored version (the minimum across the two stores) precedes
// step.to.
var upgradeSteps = []upgradeStep{
	{
		from: Version{1, 0},
		to:   Version{1, 1},
		name: "add is_analyzed to shared groups",
		run: func(ctx context.Context, priv, shared *sql.Tx) error {
			// Pre-existing groups predate the analyzed flag and were fully
			// processed when written, so they default to analyzed.
			return addColumnIfMissing(ctx, shared, "image_gallery_groups",
				"is_analyzed", "INTEGER NOT NULL DEFAULT 1")
		},
	},
	{
		from: Version{1, 1},
		to:   Version{2, 0},
		name: "add data-source build status",
		run: func(ctx context.Context, priv, shared *sql.Tx) error {
			if _, err := priv.ExecContext(ctx, CreateDataSourcesTableSQL); err != nil {
				return err
			}
			return addColumnIfMissing(ctx, priv, "datasources",
				"drawable_db_build_status", "INTEGER NOT NULL DEFAULT 0")
		},
	},
}

// addColumnIfMissing adds a column unless it already exists. SQLite has no
// ADD COLUMN IF NOT EXISTS, so the check goes through pragma_table_info.
func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("schema: failed to inspect %s.%s: %w", table, column, err)
	}
	if n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil {
		return fmt.Errorf("schema: failed to add %s.%s: %w", table, column, err)
	}
	return nil
}
