// Package journal 把 token 事件落盘，便于事后排查“什么时候拿到/丢了哪个系统的 token”。
// 只保存 token 指纹，不保存明文，也不会在重启后恢复 token。
package journal

import (
	"context"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"

	"tokenwatch/pkg/model"
)

const (
	DriverNone   = "none"
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

var ErrDisabled = errors.New("未启用 journal")

type Store interface {
	Insert(ctx context.Context, e *model.JournalEntry) error
	// Recent 按时间倒序返回；systemID 为空时不过滤。
	Recent(ctx context.Context, systemID string, limit int) ([]model.JournalEntry, error)
	Close() error
}

// Fingerprint 是 token 的 BLAKE2b-256 摘要前 8 字节（hex），足够区分同一系统的不同 token。
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func FromEvent(e model.TokenEvent) model.JournalEntry {
	return model.JournalEntry{
		ID:          e.ID,
		Kind:        e.Kind,
		SystemID:    e.SystemID,
		SystemName:  e.SystemName,
		OccurredAt:  e.OccurredAt,
		ExpiresAt:   e.ExpiresAt,
		SourceURL:   e.SourceURL,
		Fingerprint: Fingerprint(e.Token),
		Error:       e.Error,
	}
}
