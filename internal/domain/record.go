package domain

import (
	"fmt"
	"time"
)

// ForecastRecord is the normalized row shape stored in the forecast_data
// table, independent of the source file format.
type ForecastRecord struct {
	ID            string
	ForecastDate  time.Time // reference date + hour-of-day
	ForecastHour  int       // non-negative lead time in hours
	DataSource    string
	Parameter     string
	ParameterUnit string // may be empty, never absent
	SurfaceType   string
	SurfaceValue  float64
	MinLon        float64
	MaxLon        float64
	MinLat        float64
	MaxLat        float64
	LonStep       float64 // 0.0 for irregular or single-column grids
	LatStep       float64
	GridSizeLat   int // rows
	GridSizeLon   int // cols; 1 for 1-D fields
	Values        []float64
	FileName      string // dedup identity; shared by all records of one file
}

// Outcome summarizes one pipeline run.
type Outcome struct {
	FileName      string `json:"file_name"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	DownloadMS    int64  `json:"download_ms"`
	ParseMS       int64  `json:"parse_ms"`
	DBMS          int64  `json:"db_ms"`
	InsertedRows  int    `json:"inserted_rows"`
}

// DecodeError reports data that a codec produced but that cannot be
// canonicalized into a regular grid.
type DecodeError struct {
	FileName string
	Reason   string
}

func (e *DecodeError) Error() string {
	if e.FileName == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.FileName, e.Reason)
}
