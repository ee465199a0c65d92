package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
)

// Open connects driverName/dsn and wraps the handle with the matching bun
// dialect. Postgres is the deployment target; sqlite3 backs local runs and
// the integration tests.
func Open(driverName, dsn string) (*bun.DB, error) {
	driverName = strings.TrimSpace(driverName)
	if driverName == "" {
		return nil, fmt.Errorf("sqlstore: driver name is required")
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}

	switch {
	case driverName == "postgres" || strings.HasPrefix(driverName, "pg"):
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case strings.Contains(driverName, "sqlite"):
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	default:
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driverName)
	}
}
