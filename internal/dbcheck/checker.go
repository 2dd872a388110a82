package dbcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// LivenessQuery is the statement a check executes.
const LivenessQuery = "SELECT 1"

const (
	defaultTimeout = 10 * time.Second
	closeTimeout   = 5 * time.Second
)

// Session is one open database connection.
type Session interface {
	// Query executes sql and drains every returned row.
	Query(ctx context.Context, sql string) error
	Close(ctx context.Context) error
}

// Connector opens sessions against a DSN.
type Connector interface {
	Connect(ctx context.Context, dsn string) (Session, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, dsn string) (Session, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, dsn string) (Session, error) {
	return f(ctx, dsn)
}

// Config controls a Checker.
type Config struct {
	DSN     string
	Timeout time.Duration
}

// Checker runs liveness checks. It keeps no connection open between checks.
type Checker struct {
	dsn       string
	timeout   time.Duration
	connector Connector
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Checker. The DSN is not dialed until Check runs.
func New(cfg Config, connector Connector, logger *zap.Logger) (*Checker, error) {
	if cfg.DSN == "" {
		return nil, errors.New("dsn is required")
	}
	if connector == nil {
		return nil, errors.New("connector is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		dsn:       cfg.DSN,
		timeout:   cfg.Timeout,
		connector: connector,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Check opens a session, runs the liveness query and closes the session.
func (c *Checker) Check(ctx context.Context) Result {
	start := c.now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.run(ctx)
	res := Result{
		Latency:   c.now().Sub(start),
		CheckedAt: start.UTC(),
	}
	if err != nil {
		res.Status = StatusFailed
		res.Kind = Classify(err)
		res.Message = fmt.Sprintf("Failed to connect to the database. Error: %v", err)
		c.logger.Warn("Database check failed",
			zap.String("kind", string(res.Kind)),
			zap.Duration("latency", res.Latency),
			zap.Error(err),
		)
		return res
	}
	res.Status = StatusOK
	res.Message = "Database connection successful."
	c.logger.Info(res.Message, zap.Duration("latency", res.Latency))
	return res
}

func (c *Checker) run(ctx context.Context) error {
	session, err := c.connector.Connect(ctx, c.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := session.Close(closeCtx); cerr != nil {
			c.logger.Warn("Closing database session failed", zap.Error(cerr))
		}
	}()
	if err := session.Query(ctx, LivenessQuery); err != nil {
		return fmt.Errorf("liveness query: %w", err)
	}
	return nil
}

// Close releases resources held by the connector, if any.
func (c *Checker) Close() error {
	if closer, ok := c.connector.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close connector: %w", err)
		}
	}
	return nil
}
