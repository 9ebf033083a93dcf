package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"tokenwatch/pkg/model"
)

type Store struct {
	db  *sql.DB
	ins *sql.Stmt
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "./tokenwatch.sqlite"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败：%w", err)
	}
	// SQLite 单写者，避免多连接互相 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	ddl := `
CREATE TABLE IF NOT EXISTS token_events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	system_id   TEXT NOT NULL,
	system_name TEXT,
	occurred_at TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP,
	source_url  TEXT,
	fingerprint TEXT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_token_events_system ON token_events(system_id, occurred_at);
`
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
	var expires sql.NullTime
	if e.ExpiresAt != nil {
		expires = sql.NullTime{Time: *e.ExpiresAt, Valid: true}
	}
	_, err := s.ins.ExecContext(ctx,
		e.ID,
		string(e.Kind),
		e.SystemID,
		e.SystemName,
		e.OccurredAt,
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
	rows, err := s.db.QueryContext(ctx, `
SELECT
	id, kind, system_id, system_name, occurred_at,
	expires_at, source_url, fingerprint, error
FROM token_events
WHERE ? = '' OR system_id = ?
ORDER BY occurred_at DESC
LIMIT ?;
`, systemID, systemID, limit)
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
