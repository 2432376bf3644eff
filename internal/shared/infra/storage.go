// Package infra 持久化存储初始化
package infra

import (
	"database/sql"
	"fmt"
	"log"

	"labflow-admin/internal/config"
	"labflow-admin/internal/shared/storage"
	"labflow-admin/internal/shared/storage/dbutil"
	pgdriver "labflow-admin/internal/shared/storage/driver/postgres"
	sqlitedriver "labflow-admin/internal/shared/storage/driver/sqlite"
	"labflow-admin/internal/shared/storage/mongostore"
	"labflow-admin/internal/shared/storage/repository"
)

// DriverMemory 进程内存储，数据不落盘
const DriverMemory = "memory"

// OpenStorage 按配置的驱动创建持久化存储
//
// SQL 驱动在连接后自动建表。
func OpenStorage(cfg *config.Config) (storage.PersistentStore, error) {
	switch cfg.DatabaseDriver {
	case DriverMemory:
		return storage.NewMemoryStore(), nil
	case "mongodb":
		return mongostore.NewStore(cfg.DatabaseURL, cfg.DatabaseDBName)
	case string(dbutil.DriverPostgres):
		db, err := pgdriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return migrate(db, pgdriver.NewDialect())
	case string(dbutil.DriverSQLite), "":
		db, err := sqlitedriver.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return migrate(db, sqlitedriver.NewDialect())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.DatabaseDriver)
	}
}

func migrate(db *sql.DB, dialect dbutil.Dialect) (storage.PersistentStore, error) {
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s auto-migrate failed: %w", dialect.DriverType(), err)
	}
	log.Printf("[Storage] Connected to %s", dialect.DriverType())
	return repository.NewStore(db, dialect), nil
}
