package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-inserter/internal/domain"
	"github.com/couchcryptid/forecast-inserter/internal/observability"
	"github.com/couchcryptid/forecast-inserter/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mocks ---

type mockRetriever struct {
	path    string
	size    int64
	elapsed time.Duration
	err     error
	gotURL  string
}

func (m *mockRetriever) Fetch(_ context.Context, url string) (string, int64, time.Duration, error) {
	m.gotURL = url
	return m.path, m.size, m.elapsed, m.err
}

type mockParser struct {
	records     []domain.ForecastRecord
	err         error
	gotPath     string
	gotFileName string
}

func (m *mockParser) Parse(path, fileName string) ([]domain.ForecastRecord, error) {
	m.gotPath = path
	m.gotFileName = fileName
	return m.records, m.err
}

type mockStore struct {
	inserted   int
	elapsed    time.Duration
	err        error
	gotRecords []domain.ForecastRecord
	gotFile    string
}

func (m *mockStore) WriteBatch(_ context.Context, records []domain.ForecastRecord, fileName string) (int, time.Duration, error) {
	m.gotRecords = records
	m.gotFile = fileName
	return m.inserted, m.elapsed, m.err
}

func scratchFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scratch.grib2")
	require.NoError(t, os.WriteFile(path, []byte("GRIB"), 0o644))
	return path
}

func newIngester(r *mockRetriever, p *mockParser, s *mockStore) *pipeline.Ingester {
	return pipeline.NewIngester(r, p, s, testLogger(), observability.NewMetricsForTesting())
}

// --- tests ---

func TestIngest_Success(t *testing.T) {
	records := []domain.ForecastRecord{{ID: "a"}, {ID: "b"}}
	retriever := &mockRetriever{path: scratchFile(t), size: 2048, elapsed: 120 * time.Millisecond}
	parser := &mockParser{records: records}
	store := &mockStore{inserted: 2, elapsed: 30 * time.Millisecond}

	outcome, err := newIngester(retriever, parser, store).Ingest(
		context.Background(), "https://data.example.com/runs/gfs.t00z.pgrb2.grib2?token=x")
	require.NoError(t, err)

	assert.Equal(t, "gfs.t00z.pgrb2.grib2", outcome.FileName)
	assert.Equal(t, int64(2048), outcome.FileSizeBytes)
	assert.Equal(t, int64(120), outcome.DownloadMS)
	assert.Equal(t, int64(30), outcome.DBMS)
	assert.Equal(t, 2, outcome.InsertedRows)

	assert.Equal(t, "gfs.t00z.pgrb2.grib2", parser.gotFileName)
	assert.Equal(t, records, store.gotRecords)
	assert.Equal(t, "gfs.t00z.pgrb2.grib2", store.gotFile)
}

func TestIngest_DownloadFailure(t *testing.T) {
	retriever := &mockRetriever{size: 512, err: errors.New("connection reset"), elapsed: 15 * time.Millisecond}
	parser := &mockParser{}
	store := &mockStore{}

	outcome, err := newIngester(retriever, parser, store).Ingest(context.Background(), "https://h/x.grib")

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageDownload, stageErr.Stage)

	// Timing and partial byte count of the failed stage are still reported.
	assert.Equal(t, int64(15), outcome.DownloadMS)
	assert.Equal(t, int64(512), outcome.FileSizeBytes)
	assert.Empty(t, parser.gotFileName)
}

func TestIngest_ParseFailure(t *testing.T) {
	retriever := &mockRetriever{path: scratchFile(t), size: 10}
	parser := &mockParser{err: errors.New("Unsupported file format. Expected GRIB or BUFR")}
	store := &mockStore{}

	outcome, err := newIngester(retriever, parser, store).Ingest(context.Background(), "https://h/x.xyz")

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageParse, stageErr.Stage)
	assert.Contains(t, err.Error(), "Unsupported file format")

	assert.Equal(t, int64(10), outcome.FileSizeBytes)
	assert.Empty(t, store.gotFile)
}

func TestIngest_StoreFailure(t *testing.T) {
	retriever := &mockRetriever{path: scratchFile(t), size: 10}
	parser := &mockParser{records: []domain.ForecastRecord{{ID: "a"}}}
	store := &mockStore{err: errors.New("code: 241, insufficient memory"), elapsed: 5 * time.Millisecond}

	outcome, err := newIngester(retriever, parser, store).Ingest(context.Background(), "https://h/x.grib")

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageStore, stageErr.Stage)
	assert.Equal(t, int64(5), outcome.DBMS)
	assert.Zero(t, outcome.InsertedRows)
}

func TestIngest_RemovesScratchFile(t *testing.T) {
	path := scratchFile(t)
	retriever := &mockRetriever{path: path, size: 4}
	parser := &mockParser{records: []domain.ForecastRecord{{ID: "a"}}}
	store := &mockStore{inserted: 1}

	_, err := newIngester(retriever, parser, store).Ingest(context.Background(), "https://h/x.grib")
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestIngest_RemovesScratchFileOnParseFailure(t *testing.T) {
	path := scratchFile(t)
	retriever := &mockRetriever{path: path, size: 4}
	parser := &mockParser{err: errors.New("corrupt")}
	store := &mockStore{}

	_, err := newIngester(retriever, parser, store).Ingest(context.Background(), "https://h/x.grib")
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestIngest_DuplicateFileReportsZeroRows(t *testing.T) {
	retriever := &mockRetriever{path: scratchFile(t), size: 4}
	parser := &mockParser{records: []domain.ForecastRecord{{ID: "a"}}}
	store := &mockStore{inserted: 0}

	outcome, err := newIngester(retriever, parser, store).Ingest(context.Background(), "https://h/x.grib")
	require.NoError(t, err)
	assert.Zero(t, outcome.InsertedRows)
}

func TestStageError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &pipeline.StageError{Stage: pipeline.StageStore, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "store: boom", err.Error())
}
