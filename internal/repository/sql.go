package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL flavour used for placeholders and DDL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDriver maps a configured driver name to the database/sql driver name
// and its dialect.
func ParseDriver(driver string) (string, Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return "pgx", DialectPostgres, nil
	case "mysql":
		return "mysql", DialectMySQL, nil
	case "sqlite", "sqlite3":
		return "sqlite3", DialectSQLite, nil
	}
	return "", "", fmt.Errorf("unsupported database driver: %s (supported: pgx, mysql, sqlite3)", driver)
}

// OpenDB opens and pings a database/sql pool for the given driver.
func OpenDB(ctx context.Context, driver, dsn string, maxConns, maxIdle int) (*sql.DB, Dialect, error) {
	driverName, dialect, err := ParseDriver(driver)
	if err != nil {
		return nil, "", err
	}

	if dialect == DialectMySQL {
		// time.Time scanning needs parseTime.
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		if maxConns > 0 {
			db.SetMaxOpenConns(maxConns)
		}
		if maxIdle > 0 {
			db.SetMaxIdleConns(maxIdle)
		}
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}

	return db, dialect, nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate is the row lock suffix for a read inside a transaction.
func (d Dialect) forUpdate() string {
	if d == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

const createWorkflowTableSQL = `
CREATE TABLE IF NOT EXISTS workflow (
    id VARCHAR(64) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    current_step INTEGER NOT NULL,
    created_date TIMESTAMP NOT NULL,
    updated_date TIMESTAMP NOT NULL
)`

func createStepTableSQL(d Dialect) []string {
	switch d {
	case DialectPostgres:
		return []string{`
CREATE TABLE IF NOT EXISTS workflow_step_status (
    id BIGSERIAL PRIMARY KEY,
    step INTEGER NOT NULL,
    workflow_id VARCHAR(64) NOT NULL,
    status_comment TEXT NOT NULL,
    update_date_time TIMESTAMP NOT NULL,
    status VARCHAR(32) NOT NULL
)`, `CREATE INDEX IF NOT EXISTS idx_workflow_step_status_workflow_id ON workflow_step_status(workflow_id)`}
	case DialectMySQL:
		return []string{`
CREATE TABLE IF NOT EXISTS workflow_step_status (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    step INTEGER NOT NULL,
    workflow_id VARCHAR(64) NOT NULL,
    status_comment TEXT NOT NULL,
    update_date_time TIMESTAMP(6) NOT NULL,
    status VARCHAR(32) NOT NULL,
    KEY idx_workflow_step_status_workflow_id (workflow_id)
)`}
	default:
		return []string{`
CREATE TABLE IF NOT EXISTS workflow_step_status (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    step INTEGER NOT NULL,
    workflow_id VARCHAR(64) NOT NULL,
    status_comment TEXT NOT NULL,
    update_date_time TIMESTAMP NOT NULL,
    status VARCHAR(32) NOT NULL
)`, `CREATE INDEX IF NOT EXISTS idx_workflow_step_status_workflow_id ON workflow_step_status(workflow_id)`}
	}
}

// isUniqueViolation recognises duplicate key errors from every supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
