package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema files in lexical order. Every file is
// written to be re-runnable.
func Migrate(ctx context.Context, db Beginner) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("platform/db: list migrations: %w", err)
	}
	sort.Strings(names)
	return WithTx(ctx, db, func(tx pgx.Tx) error {
		if err := LockXact(ctx, tx, migrationLockKey); err != nil {
			return err
		}
		for _, name := range names {
			body, err := migrations.ReadFile(name)
			if err != nil {
				return fmt.Errorf("platform/db: read %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("platform/db: apply %s: %w", name, err)
			}
		}
		return nil
	})
}

const migrationLockKey int64 = 0x6f64797373657901
