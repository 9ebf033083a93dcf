package app

import (
	"fmt"

	"tokenwatch/internal/agent/journal"
	"tokenwatch/internal/agent/journal/duckdb"
	"tokenwatch/internal/agent/journal/sqlite"
)

// openJournal 按驱动名打开存储；DriverNone 返回 nil, nil。
func openJournal(driver, path string) (journal.Store, error) {
	switch driver {
	case "", journal.DriverNone:
		return nil, nil
	case journal.DriverSQLite:
		s, err := sqlite.NewStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case journal.DriverDuckDB:
		s, err := duckdb.NewStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的 journal 驱动：%s", driver)
	}
}
