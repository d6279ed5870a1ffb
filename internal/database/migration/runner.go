package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const advisoryLockKey int64 = 746295114

// Runner applies V<version>__<name>.sql files in version order, once each.
// Applied files are checksummed; editing one after it ran is an error.
type Runner struct {
	Dir    string
	Logger *zap.Logger
}

func (r Runner) Run(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}

	dir, err := resolveDir(r.Dir)
	if err != nil {
		return err
	}

	migs, err := loadMigrations(os.DirFS(dir))
	if err != nil {
		return err
	}

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(migs) == 0 {
		logger.Warn("migration no files found", zap.String("dir", dir))
		return nil
	}

	if err := ensureSchemaMigrations(ctx, db); err != nil {
		return err
	}

	if err := advisoryLock(ctx, db, advisoryLockKey); err != nil {
		return err
	}
	defer func() {
		_ = advisoryUnlock(context.Background(), db, advisoryLockKey)
	}()

	applied, err := getApplied(ctx, db)
	if err != nil {
		return err
	}

	states := plan(migs, applied)
	for _, st := range states {
		if st.State == StateChecksumMismatch {
			return fmt.Errorf("migration checksum mismatch: version=%d name=%s", st.Version, st.Name)
		}
	}

	count := 0
	for i, st := range states {
		if st.State != StatePending {
			continue
		}
		if err := applyOne(ctx, db, migs[i]); err != nil {
			return err
		}
		count++
		logger.Info("migration applied", zap.Int64("version", st.Version), zap.String("name", st.Name))
	}

	logger.Info("migration done", zap.Int("applied", count), zap.Int("total", len(migs)))
	return nil
}

type State string

const (
	StateApplied          State = "applied"
	StatePending          State = "pending"
	StateChecksumMismatch State = "checksum_mismatch"
)

type Status struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
	State   State  `json:"state"`
}

// Status reports every migration file against schema_migrations without
// applying anything.
func (r Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	dir, err := resolveDir(r.Dir)
	if err != nil {
		return nil, err
	}
	migs, err := loadMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	if err := ensureSchemaMigrations(ctx, db); err != nil {
		return nil, err
	}
	applied, err := getApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	return plan(migs, applied), nil
}

// plan pairs each migration, in version order, with its state.
func plan(migs []Migration, applied map[int64]appliedMigration) []Status {
	out := make([]Status, 0, len(migs))
	for _, m := range migs {
		st := Status{Version: m.Version, Name: m.Name, State: StatePending}
		if a, ok := applied[m.Version]; ok {
			st.State = StateApplied
			if a.Checksum != m.Checksum {
				st.State = StateChecksumMismatch
			}
		}
		out = append(out, st)
	}
	return out
}

type Migration struct {
	Version  int64
	Name     string
	Filename string
	SQL      string
	Checksum string
}

type appliedMigration struct {
	Version  int64
	Checksum string
}

var fileRe = regexp.MustCompile(`^V(\d+)__([A-Za-z0-9_.-]+)\.sql$`)

func resolveDir(dir string) (string, error) {
	if strings.TrimSpace(dir) != "" {
		return dir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "migrations"), nil
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	migs := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		m := fileRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version: %s", name)
		}

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		sqlText := strings.TrimSpace(string(b))
		if sqlText == "" {
			return nil, fmt.Errorf("empty migration file: %s", name)
		}

		h := sha256.Sum256([]byte(sqlText))
		migs = append(migs, Migration{
			Version:  v,
			Name:     m[2],
			Filename: name,
			SQL:      sqlText,
			Checksum: hex.EncodeToString(h[:]),
		})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for i := 1; i < len(migs); i++ {
		if migs[i].Version == migs[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version: %d", migs[i].Version)
		}
	}

	return migs, nil
}

func ensureSchemaMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	return err
}

func advisoryLock(ctx context.Context, db *sql.DB, key int64) error {
	_, err := db.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key)
	return err
}

func advisoryUnlock(ctx context.Context, db *sql.DB, key int64) error {
	_, err := db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key)
	return err
}

func getApplied(ctx context.Context, db *sql.DB) (map[int64]appliedMigration, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]appliedMigration{}
	for rows.Next() {
		var v int64
		var c string
		if err := rows.Scan(&v, &c); err != nil {
			return nil, err
		}
		out[v] = appliedMigration{Version: v, Checksum: c}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration failed: version=%d file=%s: %w", m.Version, m.Filename, err)
	}

	appliedAt := time.Now().UTC()
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, $4)`,
		m.Version,
		m.Name,
		m.Checksum,
		appliedAt,
	)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}
