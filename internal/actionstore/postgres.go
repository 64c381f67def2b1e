package actionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tealfox/offliner/internal/data"
)

// PostgresStore implements Store backed by PostgreSQL. The action set is a
// single ordered table that Store rewrites in one transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a store using the provided DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromEnv constructs a DSN using component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (offliner),
//	POSTGRES_USER (offliner), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
//
// Credentials and db name are URL-encoded to handle special characters safely.
func NewPostgresStoreFromEnv() (*PostgresStore, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "offliner")
	user := getenv("POSTGRES_USER", "offliner")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgresStore(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS actions (
    pos INT PRIMARY KEY,
    payload JSONB NOT NULL
);
`)
	return err
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Load(ctx context.Context) (data.Actions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM actions ORDER BY pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions data.Actions
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		a := &data.Action{}
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *PostgresStore) Store(ctx context.Context, actions data.Actions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM actions`); err != nil {
		return err
	}
	for i, a := range actions {
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actions (pos, payload) VALUES ($1, $2)`, i, raw); err != nil {
			return err
		}
	}
	return tx.Commit()
}
