package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteDSN = "./data/outfits.db?_busy_timeout=5000&_journal_mode=WAL"

// openDatabaseFromEnv opens the vault database. Without configuration the
// vault runs on a local sqlite file so a fresh install works offline.
func openDatabaseFromEnv() (*gorm.DB, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		dsn = defaultSQLiteDSN
	}

	driver := strings.TrimSpace(os.Getenv("DATABASE_DRIVER"))
	if driver == "" {
		driver = inferDriverFromDSN(dsn)
		if driver == "" {
			return nil, errors.New("catalog: DATABASE_DRIVER environment variable is required when DSN does not contain a scheme")
		}
	}

	if strings.EqualFold(driver, "sqlite") || strings.EqualFold(driver, "sqlite3") {
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
	}

	return openDatabase(driver, dsn)
}

// openDatabase initialises the Gorm instance for the requested driver.
func openDatabase(driver, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }})
	case "sqlite", "sqlite3":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }})
	default:
		return nil, fmt.Errorf("catalog: unsupported database driver %q", driver)
	}
}

// inferDriverFromDSN guesses the driver from the DSN shape. Query parameters
// on sqlite file paths are ignored for the suffix checks.
func inferDriverFromDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	path := lower
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasSuffix(path, ".db"), strings.HasSuffix(path, ".sqlite"):
		return "sqlite"
	default:
		return ""
	}
}

// ensureSQLiteDir creates the parent directory for a sqlite database file so
// the first boot does not fail on a missing data directory.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("catalog: ensure database dir: %w", err)
	}
	return nil
}
