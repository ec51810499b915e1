package sqlstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

//go:embed schema_mysql.sql
var mysqlSchema string

// A duplicate id leaves the row unchanged, which MySQL reports as 0 rows affected.
const mysqlInsert = `
	INSERT INTO timeouts (id, destination, headers, state, expire_at_us, owning_endpoint)
	VALUES (?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE id = id`

// MySQLConfig holds MySQL settings.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// OpenMySQL connects to MySQL and applies the schema.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*TimeoutStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = time.Hour
	}

	db, err := sqlx.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql database: %w", err)
	}
	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply mysql schema: %w", err)
	}
	return &TimeoutStore{db: db, insert: mysqlInsert}, nil
}
