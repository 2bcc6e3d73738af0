// Package format identifies the on-disk encoding of a downloaded file.
package format

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies a supported file format.
type Kind int

const (
	Unknown Kind = iota
	GRIB
	BUFR
)

func (k Kind) String() string {
	switch k {
	case GRIB:
		return "grib"
	case BUFR:
		return "bufr"
	default:
		return "unknown"
	}
}

// ErrUnknownFormat is returned when neither the extension nor the magic bytes
// match a supported format. It is terminal: the caller must not retry.
var ErrUnknownFormat = errors.New("Unsupported file format. Expected GRIB or BUFR")

var extensions = map[string]Kind{
	".grib":  GRIB,
	".grb":   GRIB,
	".grib2": GRIB,
	".grb2":  GRIB,
	".bufr":  BUFR,
}

var magics = []struct {
	prefix []byte
	kind   Kind
}{
	{[]byte("GRIB"), GRIB},
	{[]byte("BUFR"), BUFR},
}

// Detect inspects the file at path and returns its format kind. The extension
// allow-list is consulted first; when the extension is absent or unrecognized
// the first 4 bytes are matched against each format's magic signature.
func Detect(path string) (Kind, error) {
	if kind, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return kind, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Unknown, fmt.Errorf("open for detection: %w", err)
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return Unknown, ErrUnknownFormat
	}

	for _, m := range magics {
		if bytes.Equal(magic, m.prefix) {
			return m.kind, nil
		}
	}
	return Unknown, ErrUnknownFormat
}
