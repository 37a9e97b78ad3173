// Package migrate 执行 db/migrations 下的SQL迁移。
// 文件名形如 0001_init_up.sql，前缀数字为版本号，逐文件单事务应用。
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const upSuffix = "_up.sql"

// Runner 迁移执行器
type Runner struct {
	db     *pgxpool.Pool
	dir    string
	logger *zap.Logger
}

func New(db *pgxpool.Pool, dir string, logger *zap.Logger) *Runner {
	return &Runner{db: db, dir: dir, logger: logger}
}

type migration struct {
	version int64
	name    string
	path    string
}

// Up 应用所有未执行的向上迁移，返回本次应用的数量。
// 任一文件失败即停止，已提交的文件不回滚。
func (r *Runner) Up(ctx context.Context) (int, error) {
	if r.dir == "" {
		return 0, fmt.Errorf("migrations dir not configured")
	}
	if err := r.ensureTable(ctx); err != nil {
		return 0, err
	}

	pending, err := r.pending(ctx)
	if err != nil {
		return 0, err
	}

	for i, m := range pending {
		if err := r.apply(ctx, m); err != nil {
			return i, fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		r.logger.Info("migration applied",
			zap.Int64("version", m.version),
			zap.String("file", m.name))
	}
	return len(pending), nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

// pending 目录中版本号尚未记录到 schema_migrations 的迁移，按版本升序
func (r *Runner) pending(ctx context.Context) ([]migration, error) {
	applied := make(map[int64]bool)
	rows, err := r.db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, upSuffix) {
			continue
		}
		ver, err := strconv.ParseInt(strings.SplitN(name, "_", 2)[0], 10, 64)
		if err != nil {
			// 无版本前缀的文件不参与迁移
			continue
		}
		if applied[ver] {
			continue
		}
		out = append(out, migration{version: ver, name: name, path: filepath.Join(r.dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// apply 单事务执行一个迁移文件并记录版本
func (r *Runner) apply(ctx context.Context, m migration) error {
	sql, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations(version) VALUES($1)`, m.version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
