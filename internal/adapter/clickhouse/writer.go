// Package clickhouse persists canonical forecast records in a ClickHouse
// table, one row per decoded field, with file-level idempotency.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/couchcryptid/forecast-inserter/internal/domain"
)

// ErrConnectionClosed is returned by operations on a closed writer.
var ErrConnectionClosed = errors.New("clickhouse connection is closed")

// WriteError marks a database-side failure: the caller maps it to a server
// error rather than a client one.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("clickhouse %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options configures the writer connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// conn, row, and batch mirror the slice of the driver API the writer uses,
// so tests can substitute fakes.
type conn interface {
	QueryRow(ctx context.Context, query string, args ...any) row
	PrepareBatch(ctx context.Context, query string) (batch, error)
	Ping(ctx context.Context) error
	Close() error
}

type row interface {
	Scan(dest ...any) error
}

type batch interface {
	Append(v ...any) error
	Send() error
}

type driverConn struct {
	driver.Conn
}

func (c driverConn) QueryRow(ctx context.Context, query string, args ...any) row {
	return c.Conn.QueryRow(ctx, query, args...)
}

func (c driverConn) PrepareBatch(ctx context.Context, query string) (batch, error) {
	b, err := c.Conn.PrepareBatch(ctx, query)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Writer inserts forecast records. It is safe for concurrent use; the driver
// maintains its own connection pool underneath.
type Writer struct {
	conn   conn
	table  string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewWriter opens a connection pool against opts.Addr. The connection is
// lazy; use Ping to verify reachability at startup.
func NewWriter(opts Options, logger *slog.Logger) (*Writer, error) {
	c, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	return &Writer{
		conn:   driverConn{Conn: c},
		table:  opts.Table,
		logger: logger,
	}, nil
}

// Ping verifies the server is reachable.
func (w *Writer) Ping(ctx context.Context) error {
	if w.isClosed() {
		return ErrConnectionClosed
	}
	if err := w.conn.Ping(ctx); err != nil {
		return &WriteError{Op: "ping", Err: err}
	}
	return nil
}

// WriteBatch inserts all records for fileName in one batch. A file name that
// is already present in the table short-circuits to zero inserted rows, which
// makes redelivered queue messages and repeated HTTP requests harmless. The
// elapsed duration covers the duplicate lookup as well as the insert.
func (w *Writer) WriteBatch(ctx context.Context, records []domain.ForecastRecord, fileName string) (int, time.Duration, error) {
	start := time.Now()

	if w.isClosed() {
		return 0, time.Since(start), ErrConnectionClosed
	}

	exists, err := w.fileExists(ctx, fileName)
	if err != nil {
		return 0, time.Since(start), err
	}
	if exists {
		w.logger.Info("file already ingested, skipping insert", "file_name", fileName)
		return 0, time.Since(start), nil
	}

	if len(records) == 0 {
		return 0, time.Since(start), nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return 0, time.Since(start), &WriteError{Op: "prepare batch", Err: err}
	}

	for _, r := range records {
		err := batch.Append(
			r.ID,
			r.ForecastDate,
			int32(r.ForecastHour),
			r.DataSource,
			r.Parameter,
			r.ParameterUnit,
			r.SurfaceType,
			r.SurfaceValue,
			r.MinLon,
			r.MaxLon,
			r.MinLat,
			r.MaxLat,
			r.LonStep,
			r.LatStep,
			int32(r.GridSizeLat),
			int32(r.GridSizeLon),
			r.Values,
			r.FileName,
		)
		if err != nil {
			return 0, time.Since(start), &WriteError{Op: "append row", Err: err}
		}
	}

	if err := batch.Send(); err != nil {
		return 0, time.Since(start), &WriteError{Op: "send batch", Err: err}
	}

	return len(records), time.Since(start), nil
}

func (w *Writer) fileExists(ctx context.Context, fileName string) (bool, error) {
	var count uint64
	query := fmt.Sprintf("SELECT count() FROM %s WHERE file_name = ?", w.table)
	if err := w.conn.QueryRow(ctx, query, fileName).Scan(&count); err != nil {
		return false, &WriteError{Op: "duplicate lookup", Err: err}
	}
	return count > 0, nil
}

// Close releases the connection pool. Subsequent operations return
// ErrConnectionClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}

func (w *Writer) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
