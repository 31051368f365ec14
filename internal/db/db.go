package db

import (
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver picks the gorm dialector for dsn. "sqlite:" prefixed DSNs and
// *.db files use the pure-Go SQLite driver; anything else is MySQL.
func Driver(dsn string) (name string, dialector gorm.Dialector) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", gormsqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return "sqlite", gormsqlite.Open(dsn)
	default:
		return "mysql", mysql.Open(dsn)
	}
}

// Connect opens dsn and migrates models.
func Connect(dsn string, models ...any) (*gorm.DB, error) {
	name, dialector := Driver(dsn)
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", name, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if name == "sqlite" {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if len(models) > 0 {
		if err := gdb.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("db: migrate: %w", err)
		}
	}
	return gdb, nil
}
