// Package pipeline orchestrates the download-parse-store flow for a single
// forecast file and attributes failures to the stage that produced them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/couchcryptid/forecast-inserter/internal/domain"
	"github.com/couchcryptid/forecast-inserter/internal/observability"
)

// Stage names used in error attribution and metrics labels.
const (
	StageDownload = "download"
	StageParse    = "parse"
	StageStore    = "store"
)

// StageError wraps a failure with the pipeline stage it occurred in. The HTTP
// adapter maps download and parse stages to client errors and the store stage
// to a server error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Retriever downloads a remote file to local scratch storage.
type Retriever interface {
	Fetch(ctx context.Context, url string) (path string, size int64, elapsed time.Duration, err error)
}

// RecordParser decodes a local file into canonical forecast records.
type RecordParser interface {
	Parse(path, fileName string) ([]domain.ForecastRecord, error)
}

// RecordStore persists a batch of records idempotently per file name.
type RecordStore interface {
	WriteBatch(ctx context.Context, records []domain.ForecastRecord, fileName string) (inserted int, elapsed time.Duration, err error)
}

// Ingester runs the full flow for one file.
type Ingester struct {
	retriever Retriever
	parser    RecordParser
	store     RecordStore
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewIngester creates an Ingester with the given stages and observability.
func NewIngester(r Retriever, p RecordParser, s RecordStore, logger *slog.Logger, metrics *observability.Metrics) *Ingester {
	return &Ingester{
		retriever: r,
		parser:    p,
		store:     s,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ingest downloads rawURL, decodes it, and writes the records. The returned
// outcome carries the timings of every stage that ran, including the failed
// one, so callers can report partial progress on error.
func (ing *Ingester) Ingest(ctx context.Context, rawURL string) (domain.Outcome, error) {
	fileName := fileNameFromURL(rawURL)
	outcome := domain.Outcome{FileName: fileName}

	ing.logger.Info("ingest started", "url", rawURL, "file_name", fileName)

	localPath, size, downloadElapsed, err := ing.retriever.Fetch(ctx, rawURL)
	outcome.DownloadMS = downloadElapsed.Milliseconds()
	outcome.FileSizeBytes = size
	if err != nil {
		return outcome, &StageError{Stage: StageDownload, Err: err}
	}
	defer ing.removeScratch(localPath)

	ing.metrics.DownloadDuration.Observe(downloadElapsed.Seconds())
	ing.metrics.FileSizeBytes.Set(float64(size))
	ing.metrics.NetworkBytes.Add(float64(size))

	parseStart := time.Now()
	records, err := ing.parser.Parse(localPath, fileName)
	parseElapsed := time.Since(parseStart)
	outcome.ParseMS = parseElapsed.Milliseconds()
	if err != nil {
		return outcome, &StageError{Stage: StageParse, Err: err}
	}
	ing.metrics.ParseDuration.Observe(parseElapsed.Seconds())

	inserted, dbElapsed, err := ing.store.WriteBatch(ctx, records, fileName)
	outcome.DBMS = dbElapsed.Milliseconds()
	if err != nil {
		return outcome, &StageError{Stage: StageStore, Err: err}
	}
	ing.metrics.InsertDuration.Observe(dbElapsed.Seconds())

	outcome.InsertedRows = inserted
	ing.logger.Info("ingest finished",
		"file_name", fileName,
		"inserted_rows", inserted,
		"download_ms", outcome.DownloadMS,
		"parse_ms", outcome.ParseMS,
		"db_ms", outcome.DBMS)

	return outcome, nil
}

func (ing *Ingester) removeScratch(path string) {
	if err := os.Remove(path); err != nil {
		ing.logger.Warn("scratch file cleanup failed", "path", path, "error", err)
	}
}

// fileNameFromURL returns the last path segment of the URL, falling back to
// the raw string when it does not parse.
func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}
