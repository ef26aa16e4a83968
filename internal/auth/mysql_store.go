package auth

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLUserStore backs UserStore with a MariaDB/MySQL table:
//
//	CREATE TABLE users (name VARCHAR(64) PRIMARY KEY, pubkey VARCHAR(64), flags VARCHAR(16))
type MySQLUserStore struct {
	db *sql.DB
}

// NewMySQLUserStore opens dsn and verifies connectivity. A failed dial here
// is fatal to startup when MySQL is the configured auth backend, matching
// the "unreachable configured identity store" rule.
func NewMySQLUserStore(dsn string) (*MySQLUserStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: opening mysql dsn: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("auth: connecting to mysql: %w", err)
	}
	return &MySQLUserStore{db: db}, nil
}

// Lookup implements UserStore.
func (s *MySQLUserStore) Lookup(userName string) (string, string, error) {
	var pubkey, flags string
	row := s.db.QueryRow(`SELECT pubkey, flags FROM users WHERE name = ?`, normalizeUser(userName))
	if err := row.Scan(&pubkey, &flags); err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrUserNotFound
		}
		return "", "", fmt.Errorf("auth: querying mysql: %w", err)
	}
	return pubkey, flags, nil
}

// Close releases the underlying connection pool.
func (s *MySQLUserStore) Close() error {
	return s.db.Close()
}
