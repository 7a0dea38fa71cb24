package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// DB pairs the authoritative primary with an optional read replica.
// Replica is the primary itself when no replica is configured.
type DB struct {
	Primary *sqlx.DB
	Replica *sqlx.DB
}

func NewDB(primary Config, replica *Config) (*DB, error) {
	p, err := connect(primary)
	if err != nil {
		return nil, err
	}
	db := &DB{Primary: p, Replica: p}
	if replica != nil && replica.Host != "" {
		r, err := connect(*replica)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("replica: %w", err)
		}
		db.Replica = r
	}
	return db, nil
}

func connect(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func (db *DB) Close() error {
	if db.Replica != db.Primary {
		db.Replica.Close()
	}
	return db.Primary.Close()
}
