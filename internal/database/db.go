package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection. The database holds
// the audit side of the engine: authorization sessions and the reservation
// journal. Booking display state lives in the cache, never here.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// The audit tables see one short write per intent attempt or terminal
	// chain event; a small pool is enough and keeps connection pressure off
	// the primary.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the audit tables when they do not exist yet. Chain
// integers are stored as decimal strings; VARCHAR widths leave room for
// 256-bit values.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			session_id   VARCHAR(128) NOT NULL,
			user_address VARCHAR(64)  NOT NULL,
			stage        VARCHAR(32)  NOT NULL,
			request_id   VARCHAR(128) NOT NULL DEFAULT '',
			reason       VARCHAR(512) NOT NULL DEFAULT '',
			token_hash   CHAR(64)     NOT NULL DEFAULT '',
			created_at   DATETIME     NOT NULL,
			updated_at   DATETIME     NOT NULL,
			PRIMARY KEY (session_id),
			KEY idx_auth_sessions_user (user_address, updated_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS reservation_journal (
			id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			reservation_key VARCHAR(80)  NOT NULL,
			lab_id          VARCHAR(80)  NOT NULL,
			user_address    VARCHAR(64)  NOT NULL,
			status          VARCHAR(32)  NOT NULL,
			tx_hash         VARCHAR(80)  NOT NULL DEFAULT '',
			note            VARCHAR(512) NOT NULL DEFAULT '',
			observed_at     DATETIME     NOT NULL,
			PRIMARY KEY (id),
			KEY idx_journal_key (reservation_key, observed_at),
			KEY idx_journal_user (user_address, observed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
