package dbcheck

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Classify maps a driver error onto a failure Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if code, ok := sqlState(err); ok {
		switch {
		case strings.HasPrefix(code, "28"):
			return KindAuthentication
		case strings.HasPrefix(code, "08"), code == "57P03":
			return KindConnection
		default:
			return KindUnknown
		}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, pq.ErrSSLNotSupported):
		return KindConnection
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindConnection
	case errors.As(err, &opErr), errors.As(err, &dnsErr), errors.As(err, &connectErr):
		return KindConnection
	}
	return KindUnknown
}

// sqlState extracts a server SQLSTATE from pgx or lib/pq errors.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}
