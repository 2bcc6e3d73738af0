package format_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/forecast-inserter/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestDetect_ByExtension(t *testing.T) {
	cases := map[string]format.Kind{
		"model.grib":  format.GRIB,
		"model.grb":   format.GRIB,
		"model.grib2": format.GRIB,
		"model.GRB2":  format.GRIB,
		"obs.bufr":    format.BUFR,
	}
	for name, want := range cases {
		// Content deliberately contradicts the extension: the allow-list wins.
		path := writeFile(t, name, []byte("0000 payload"))
		kind, err := format.Detect(path)
		require.NoError(t, err, name)
		assert.Equal(t, want, kind, name)
	}
}

func TestDetect_ByMagicBytes(t *testing.T) {
	path := writeFile(t, "download.bin", []byte("GRIB rest of message"))
	kind, err := format.Detect(path)
	require.NoError(t, err)
	assert.Equal(t, format.GRIB, kind)

	path = writeFile(t, "download.dat", []byte("BUFR rest of message"))
	kind, err = format.Detect(path)
	require.NoError(t, err)
	assert.Equal(t, format.BUFR, kind)
}

func TestDetect_UnknownFormat(t *testing.T) {
	path := writeFile(t, "bad.xyz", []byte("PK\x03\x04 not a grid"))
	kind, err := format.Detect(path)
	assert.Equal(t, format.Unknown, kind)
	assert.ErrorIs(t, err, format.ErrUnknownFormat)
}

func TestDetect_TooShortForMagic(t *testing.T) {
	path := writeFile(t, "tiny", []byte("GR"))
	_, err := format.Detect(path)
	assert.ErrorIs(t, err, format.ErrUnknownFormat)
}

func TestDetect_MissingFile(t *testing.T) {
	_, err := format.Detect(filepath.Join(t.TempDir(), "nope.bin"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, format.ErrUnknownFormat)
}
