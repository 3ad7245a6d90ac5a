package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trades-signal/internal/config"
)

// Store 封装 SQLite 连接。信号进程与模拟执行端共享同一文件时依赖 WAL 与 busy_timeout。
type Store struct {
	db *sql.DB
}

// 文件库的连接级设置，内存库不需要 WAL。
var filePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
}

// NewSQLite 根据配置初始化 SQLite 存储。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	if cfg.InMemory {
		// 每个连接各自持有一份内存库，固定为单连接。
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
	} else if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: 创建目录 %q 失败: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("store: 打开 SQLite 失败: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.InMemory {
		for _, pragma := range filePragmas {
			if _, err := conn.Exec(pragma); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("store: 执行 %s 失败: %w", pragma, err)
			}
		}
	}
	return &Store{db: conn}, nil
}

func dsn(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	if cfg.InMemory {
		return ":memory:?" + q.Encode()
	}
	return cfg.Path + "?" + q.Encode()
}

// NewMemory 创建内存数据库，用于测试与回测。
func NewMemory() (*Store, error) {
	return NewSQLite(config.DatabaseConfig{InMemory: true})
}

// DB 返回底层 *sql.DB。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate 在单个事务中执行组件的建表语句，并记录到 schema_components。
// 语句需可重复执行（IF NOT EXISTS）。
func (s *Store) Migrate(component string, stmts ...string) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_components (
	component TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("store: 初始化 schema_components 失败: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: %s 开启事务失败: %w", component, err)
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("store: %s 建表失败: %w", component, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_components (component, applied_at) VALUES (?, ?)
		 ON CONFLICT(component) DO UPDATE SET applied_at = excluded.applied_at`,
		component, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("store: 记录 %s 失败: %w", component, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: %s 提交失败: %w", component, err)
	}
	return nil
}

// Components 返回已完成建表的组件名。
func (s *Store) Components() ([]string, error) {
	rows, err := s.db.Query(`SELECT component FROM schema_components ORDER BY component`)
	if err != nil {
		return nil, fmt.Errorf("store: 查询组件失败: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
