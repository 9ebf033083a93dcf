package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"tokenwatch/pkg/model"
)

type Store struct {
	db   *sql.DB
	ins  *sql.Stmt
	path string
}

// NewStore 打开 DuckDB 文件；path 为空时使用内存库（进程退出即丢弃）。
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("打开 DuckDB 失败：%w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	ddl := `
CREATE TABLE IF NOT EXISTS token_events (
	id          VARCHAR PRIMARY KEY,
	kind        VARCHAR NOT NULL,
	system_id   VARCHAR NOT NULL,
	system_name VARCHAR,
	occurred_at TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP,
	source_url  VARCHAR,
	fingerprint VARCHAR,
	error       VARCHAR
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("建表失败：%w", err)
	}

	stmt, err := s.db.Prepare(`
INSERT INTO token_events (
	id, kind, system_id, system_name, occurred_at,
	expires_at, source_url, fingerprint, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return fmt.Errorf("准备插入语句失败：%w", err)
	}
	s.ins = stmt
	return nil
}

func (s *Store) Insert(ctx context.Context, e *model.JournalEntry) error {
	if e == nil {
		return fmt.Errorf("entry 为空")
	}
	// go-duckdb 对 NULL 时间参数需要显式 nil
	var expires any
	if e.ExpiresAt != nil {
		expires = e.ExpiresAt.UTC()
	}
	_, err := s.ins.ExecContext(ctx,
		e.ID,
		string(e.Kind),
		e.SystemID,
		e.SystemName,
		e.OccurredAt.UTC(),
		expires,
		e.SourceURL,
		e.Fingerprint,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("插入失败：%w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, systemID string, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 200
	}

	query := `
SELECT
	id, kind, system_id, system_name, occurred_at,
	expires_at, source_url, fingerprint, error
FROM token_events`
	args := []any{}
	if systemID != "" {
		query += "\nWHERE system_id = ?"
		args = append(args, systemID)
	}
	query += "\nORDER BY occurred_at DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]model.JournalEntry, 0, 64)
	for rows.Next() {
		var (
			r       model.JournalEntry
			kind    string
			expires sql.NullTime
		)
		if err := rows.Scan(
			&r.ID,
			&kind,
			&r.SystemID,
			&r.SystemName,
			&r.OccurredAt,
			&expires,
			&r.SourceURL,
			&r.Fingerprint,
			&r.Error,
		); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		r.Kind = model.EventKind(kind)
		if expires.Valid {
			t := expires.Time
			r.ExpiresAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	var firstErr error
	if s.ins != nil {
		if err := s.ins.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
