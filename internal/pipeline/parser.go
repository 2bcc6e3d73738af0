package pipeline

import (
	"fmt"

	"github.com/couchcryptid/forecast-inserter/internal/codec"
	"github.com/couchcryptid/forecast-inserter/internal/codec/bufr"
	"github.com/couchcryptid/forecast-inserter/internal/codec/grib"
	"github.com/couchcryptid/forecast-inserter/internal/domain"
	"github.com/couchcryptid/forecast-inserter/internal/format"
)

// strategy pairs a format decoder with the canonicalizer that understands its
// field layout.
type strategy struct {
	decode       func(path string) ([]codec.Field, error)
	canonicalize func(fields []codec.Field, fileName string) ([]domain.ForecastRecord, error)
}

var strategies = map[format.Kind]strategy{
	format.GRIB: {grib.Decode, domain.CanonicalizeGrid},
	format.BUFR: {bufr.Decode, domain.CanonicalizeObservations},
}

// FileParser detects the format of a local file and decodes it into canonical
// records.
type FileParser struct{}

// NewFileParser creates a parser covering all supported formats.
func NewFileParser() *FileParser {
	return &FileParser{}
}

// Parse detects the file's format, decodes it, and canonicalizes the decoded
// fields. Unknown formats surface format.ErrUnknownFormat; decode failures
// surface as domain decode errors tagged with fileName.
func (p *FileParser) Parse(path, fileName string) ([]domain.ForecastRecord, error) {
	kind, err := format.Detect(path)
	if err != nil {
		return nil, err
	}

	s, ok := strategies[kind]
	if !ok {
		return nil, format.ErrUnknownFormat
	}

	fields, err := s.decode(path)
	if err != nil {
		return nil, &domain.DecodeError{FileName: fileName, Reason: fmt.Sprintf("decode %s: %v", kind, err)}
	}

	return s.canonicalize(fields, fileName)
}
