// Package migrate applies the SQL schema and development seeds to Postgres.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
)

// set is one family of SQL files tracked in its own bookkeeping table.
type set struct {
	files  fs.FS
	table  string
	suffix string
}

// Manager executes migrations and seeds read from a file system, either a
// directory on disk or the files embedded in the binary. Each file runs in a
// transaction together with its bookkeeping row.
type Manager struct {
	db         *sql.DB
	migrations set
	seeds      set
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrations.table = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

// NewManager constructs a Manager. A nil seeds FS disables seeding.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: set{files: migrations, table: "schema_migrations", suffix: ".up.sql"},
		seeds:      set{files: seeds, table: "schema_seeds", suffix: ".sql"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDirManager reads migrations and seeds from directories on disk.
func NewDirManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	var seeds fs.FS
	if seedsDir != "" {
		seeds = os.DirFS(seedsDir)
	}
	return NewManager(db, os.DirFS(migrationsDir), seeds, opts...)
}

// Up applies every pending migration in file name order.
func (m *Manager) Up(ctx context.Context) error {
	n, err := m.applyPending(ctx, m.migrations)
	if err != nil {
		return fmt.Errorf("migrate up after %d file(s): %w", n, err)
	}
	return nil
}

// Seed applies pending seed files. Seeds never roll back.
func (m *Manager) Seed(ctx context.Context) error {
	n, err := m.applyPending(ctx, m.seeds)
	if err != nil {
		return fmt.Errorf("seed after %d file(s): %w", n, err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.migrations.files, down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	record := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.run(ctx, m.migrations.files, down, record, last); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrations.table)
}

func (m *Manager) applyPending(ctx context.Context, s set) (int, error) {
	if err := m.ensureTables(ctx); err != nil {
		return 0, err
	}
	done, err := m.applied(ctx, s.table)
	if err != nil {
		return 0, err
	}
	files, err := collectSQL(s.files, s.suffix)
	if err != nil {
		return 0, err
	}
	record := fmt.Sprintf(`insert into %s (name) values ($1)`, s.table)
	n := 0
	for _, f := range files {
		if slices.Contains(done, path.Base(f)) {
			continue
		}
		if err := m.run(ctx, s.files, f, record, path.Base(f)); err != nil {
			return n, fmt.Errorf("%s: %w", path.Base(f), err)
		}
		n++
	}
	return n, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// run executes the statements of file and then the bookkeeping statement in
// one transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, file, record, name string) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// collectSQL returns the paths under fsys ending in suffix, sorted by base name.
func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b string) int { return strings.Compare(path.Base(a), path.Base(b)) })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted literals and
// drops blank statements.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, r := range script {
		current.WriteRune(r)
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ';' && !quoted:
			flush()
		}
	}
	flush()
	return stmts
}
