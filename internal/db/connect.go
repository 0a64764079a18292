package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB, tunes the pool, applies SQLite pragmas, and ensures the
// schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:ltitool.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/ltitool?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func tunePool(driver Driver, db *sql.DB) {
	maxOpen, maxIdle := 20, 10
	connLife, idleLife := 45*time.Minute, 15*time.Minute
	if driver == DriverSQLite {
		// single writer: keep the pool tiny to avoid busy errors
		maxOpen, maxIdle = 1, 1
		connLife, idleLife = 0, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLife)
	db.SetConnMaxIdleTime(idleLife)
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS platforms (
  url TEXT NOT NULL,                       -- issuer URL
  name TEXT NOT NULL DEFAULT '',
  client_id TEXT NOT NULL,
  authentication_endpoint TEXT NOT NULL,
  accesstoken_endpoint TEXT NOT NULL,
  auth_method TEXT NOT NULL,               -- e.g. JWK_SET
  auth_key TEXT NOT NULL,                  -- JWKS URL
  kid TEXT NOT NULL,
  PRIMARY KEY (url, client_id)
);

CREATE TABLE IF NOT EXISTS platform_keys (
  kid TEXT PRIMARY KEY,
  public_pem TEXT NOT NULL,
  private_pem TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS id_tokens (
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  deployment_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  payload TEXT NOT NULL,                   -- JSON claim bag
  created_at INTEGER NOT NULL,
  PRIMARY KEY (issuer, client_id, deployment_id, user_id)
);

CREATE TABLE IF NOT EXISTS launch_states (
  state TEXT PRIMARY KEY,
  issuer TEXT NOT NULL,
  expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nonces (
  platform_key TEXT NOT NULL,
  nonce TEXT NOT NULL,
  expires_at INTEGER NOT NULL,
  PRIMARY KEY (platform_key, nonce)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS platforms (
  url TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  client_id TEXT NOT NULL,
  authentication_endpoint TEXT NOT NULL,
  accesstoken_endpoint TEXT NOT NULL,
  auth_method TEXT NOT NULL,
  auth_key TEXT NOT NULL,
  kid TEXT NOT NULL,
  PRIMARY KEY (url, client_id)
);

CREATE TABLE IF NOT EXISTS platform_keys (
  kid TEXT PRIMARY KEY,
  public_pem TEXT NOT NULL,
  private_pem TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS id_tokens (
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  deployment_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  PRIMARY KEY (issuer, client_id, deployment_id, user_id)
);

CREATE TABLE IF NOT EXISTS launch_states (
  state TEXT PRIMARY KEY,
  issuer TEXT NOT NULL,
  expires_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS nonces (
  platform_key TEXT NOT NULL,
  nonce TEXT NOT NULL,
  expires_at BIGINT NOT NULL,
  PRIMARY KEY (platform_key, nonce)
);
`
