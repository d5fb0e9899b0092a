// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_saves.sql
var savesSchema string

// SQLiteSaveStore 将存档保存在单个SQLite数据库中
type SQLiteSaveStore struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLiteSaveStore 打开数据库并建表
func OpenSQLiteSaveStore(path string) (*SQLiteSaveStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(savesSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteSaveStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteSaveStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteSaveStore) Put(ctx context.Context, name string, snapshot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO saves (name, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		name,
		string(snapshot),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put save %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteSaveStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snapshot string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT snapshot FROM saves WHERE name = ?`, name).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get save %s: %w", name, err)
	}
	return []byte(snapshot), nil
}

func (s *SQLiteSaveStore) List(ctx context.Context) ([]SaveInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name, updated_at FROM saves ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	defer rows.Close()

	saves := []SaveInfo{}
	for rows.Next() {
		var info SaveInfo
		var updatedAt int64
		if err := rows.Scan(&info.Name, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan save: %w", err)
		}
		info.UpdatedAt = fromMillis(updatedAt)
		saves = append(saves, info)
	}
	return saves, rows.Err()
}

func (s *SQLiteSaveStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM saves WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete save %s: %w", name, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
