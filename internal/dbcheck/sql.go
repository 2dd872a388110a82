package dbcheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq" // registers the "postgres" driver
)

// SQLConnector dials through database/sql with lib/pq. The pool is opened on
// first use, keeps no idle connections, and is released by Close.
type SQLConnector struct {
	driver string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLConnector returns a connector for the lib/pq driver.
func NewSQLConnector() *SQLConnector {
	return &SQLConnector{driver: "postgres"}
}

// NewSQLConnectorWithDB builds a connector around an existing pool (primarily
// for testing). The pool's settings are left as the caller configured them.
func NewSQLConnectorWithDB(db *sql.DB) *SQLConnector {
	return &SQLConnector{db: db}
}

// Connect checks out a dedicated connection.
func (c *SQLConnector) Connect(ctx context.Context, dsn string) (Session, error) {
	db, err := c.pool(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}
	return &sqlSession{conn: conn}, nil
}

func (c *SQLConnector) pool(dsn string) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open(c.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	configurePool(db)
	c.db = db
	return db, nil
}

// Close closes the pool.
func (c *SQLConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("close sql pool: %w", err)
	}
	return nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)
}

type sqlSession struct {
	conn *sql.Conn
}

func (s *sqlSession) Query(ctx context.Context, query string) error {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	for rows.Next() {
	}
	return errors.Join(wrapErr("read rows", rows.Err()), wrapErr("close rows", rows.Close()))
}

func (s *sqlSession) Close(_ context.Context) error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close sql conn: %w", err)
	}
	return nil
}

func wrapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
