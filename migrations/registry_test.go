package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	hooks "github.com/goliatone/go-hooks"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestFilesystems_RejectsUnpairedMigration(t *testing.T) {
	fsys := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00001_a.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00002_b.up.sql":   {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := Filesystems(fsys)
	if err == nil {
		t.Fatalf("expected missing down migration error")
	}
	if !strings.Contains(err.Error(), "00002_b.down.sql") {
		t.Fatalf("expected error to name the missing file, got %v", err)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	var labels []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect)
		labels = append(labels, label)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
	if labels[0] != "go-hooks" {
		t.Fatalf("expected go-hooks source label, got %q", labels[0])
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil register func")
	}
}

func TestHooksCoreMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := hooks.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_hooks_core.up.sql",
		"data/sql/migrations/00001_hooks_core.down.sql",
		"data/sql/migrations/sqlite/00001_hooks_core.up.sql",
		"data/sql/migrations/sqlite/00001_hooks_core.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteHooksCoreMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-hooks-core?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	sqliteMigrations, err := fs.Sub(hooks.GetCoreMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_hooks_core.up.sql"); err != nil {
		t.Fatalf("apply hooks core up: %v", err)
	}

	for _, tableName := range []string{"hook_webhooks", "hook_deliveries"} {
		if got := countSQLiteObjects(t, db, "table", tableName); got != 1 {
			t.Fatalf("expected table %s after up migration", tableName)
		}
	}
	if got := countSQLiteObjects(t, db, "index", "idx_hook_deliveries_due"); got != 1 {
		t.Fatalf("expected due index after up migration")
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO hook_webhooks (id, business_id, url, secret) VALUES (?, ?, ?, ?)`,
		"wh_1", "biz_1", "https://example.com/hook", []byte("secret"),
	); err != nil {
		t.Fatalf("insert webhook: %v", err)
	}

	insertDelivery := `INSERT INTO hook_deliveries (id, webhook_id, business_id, event_id, event_type, payload, status, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertDelivery,
		"del_1", "wh_1", "biz_1", "evt_1", "order.created", []byte(`{}`), "pending", nil,
	); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertDelivery,
		"del_2", "wh_missing", "biz_1", "evt_1", "order.created", []byte(`{}`), "pending", nil,
	); err == nil {
		t.Fatalf("expected foreign key violation for unknown webhook")
	}
	if _, err := db.ExecContext(ctx, insertDelivery,
		"del_3", "wh_1", "biz_1", "evt_1", "order.created", []byte(`{}`), "exploded", nil,
	); err == nil {
		t.Fatalf("expected status check violation")
	}
	if _, err := db.ExecContext(ctx, insertDelivery,
		"del_4", "wh_1", "biz_1", "evt_1", "order.created", []byte(`{}`), "retrying", nil,
	); err == nil {
		t.Fatalf("expected retrying without next_retry_at to be rejected")
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM hook_deliveries`); err != nil {
		t.Fatalf("clear deliveries: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_hooks_core.down.sql"); err != nil {
		t.Fatalf("apply hooks core down: %v", err)
	}
	for _, tableName := range []string{"hook_webhooks", "hook_deliveries"} {
		if got := countSQLiteObjects(t, db, "table", tableName); got != 0 {
			t.Fatalf("expected table %s to be dropped after down migration", tableName)
		}
	}
}

func countSQLiteObjects(t *testing.T, db *sql.DB, kind string, name string) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?`,
		kind,
		name,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master for %s %s: %v", kind, name, err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
