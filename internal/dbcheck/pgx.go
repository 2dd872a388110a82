package dbcheck

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGXConn is the subset of *pgx.Conn a session needs.
type PGXConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// PGXConnector dials with jackc/pgx.
type PGXConnector struct{}

// Connect opens a single pgx connection.
func (PGXConnector) Connect(ctx context.Context, dsn string) (Session, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx connect: %w", err)
	}
	return NewPGXSession(conn), nil
}

type pgxSession struct {
	conn PGXConn
}

// NewPGXSession wraps an open pgx connection.
func NewPGXSession(conn PGXConn) Session {
	return &pgxSession{conn: conn}
}

func (s *pgxSession) Query(ctx context.Context, sql string) error {
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	return nil
}

func (s *pgxSession) Close(ctx context.Context) error {
	if err := s.conn.Close(ctx); err != nil {
		return fmt.Errorf("close pgx conn: %w", err)
	}
	return nil
}
