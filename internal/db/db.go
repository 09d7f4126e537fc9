package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations. Only the
// room registry, room bans and guardian entitlements are durable; the live
// message set never touches disk.
func Connect(dsn string) (*sqlx.DB, error) {
	database, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(database); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return database, nil
}

func runMigrations(database *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            owner_account_id TEXT NOT NULL,
            slow_mode_seconds INT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS room_bans (
            room_name TEXT NOT NULL REFERENCES rooms(name) ON DELETE CASCADE,
            identity_key TEXT NOT NULL,
            banned_by TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(room_name, identity_key)
        );`,
		`CREATE TABLE IF NOT EXISTS guardian_grants (
            account_id TEXT PRIMARY KEY,
            guardian_until TIMESTAMPTZ NOT NULL,
            granted_at TIMESTAMPTZ DEFAULT NOW()
        );`,
	}

	for _, m := range migrations {
		if _, err := database.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
