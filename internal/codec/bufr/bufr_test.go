package bufr

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- message builder helpers ---

type bitWriter struct {
	data []byte
	pos  int
}

func (w *bitWriter) write(v uint64, bits int) {
	for i := bits - 1; i >= 0; i-- {
		if w.pos%8 == 0 {
			w.data = append(w.data, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.data[w.pos/8] |= 1 << uint(7-w.pos%8)
		}
		w.pos++
	}
}

// raw converts a physical value into the wire integer for a Table B element.
func raw(el element, value float64) uint64 {
	return uint64(int64(math.Round(value*math.Pow(10, float64(el.scale)))) - el.ref)
}

// buildMessage assembles an edition-4 message with the given descriptors and
// one raw bit-field slice per subset (values in descriptor order).
func buildMessage(t *testing.T, descriptors []descriptor, subsets [][]uint64, flags byte) []byte {
	t.Helper()

	sec1 := make([]byte, 22)
	putUint24(sec1, len(sec1))
	// octet 9 (index 9) flags no optional section; octet 11 (index 10) data category.
	sec1[10] = 0

	sec3 := make([]byte, 7+2*len(descriptors))
	putUint24(sec3, len(sec3))
	binary.BigEndian.PutUint16(sec3[4:6], uint16(len(subsets)))
	sec3[6] = flags
	for i, d := range descriptors {
		binary.BigEndian.PutUint16(sec3[7+2*i:], uint16(d))
	}

	w := &bitWriter{}
	expanded, err := expand(descriptors)
	require.NoError(t, err)
	for _, subset := range subsets {
		require.Len(t, subset, len(expanded))
		for i, el := range expanded {
			w.write(subset[i], el.bits)
		}
	}
	sec4 := make([]byte, 4+len(w.data))
	putUint24(sec4, len(sec4))
	copy(sec4[4:], w.data)

	total := 8 + len(sec1) + len(sec3) + len(sec4) + 4

	msg := make([]byte, 0, total)
	msg = append(msg, 'B', 'U', 'F', 'R')
	msg = append(msg, byte(total>>16), byte(total>>8), byte(total))
	msg = append(msg, 4) // edition
	msg = append(msg, sec1...)
	msg = append(msg, sec3...)
	msg = append(msg, sec4...)
	msg = append(msg, '7', '7', '7', '7')
	return msg
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obs.bufr")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

var obsDescriptors = []descriptor{
	fxy(0, 4, 1),    // year
	fxy(0, 4, 2),    // month
	fxy(0, 4, 3),    // day
	fxy(0, 4, 4),    // hour
	fxy(0, 5, 2),    // latitude
	fxy(0, 6, 2),    // longitude
	fxy(0, 12, 101), // air temperature
}

func obsSubset(lat, lon, tempK float64) []uint64 {
	latEl := tableB[fxy(0, 5, 2)]
	lonEl := tableB[fxy(0, 6, 2)]
	tmpEl := tableB[fxy(0, 12, 101)]
	return []uint64{2025, 3, 14, 6, raw(latEl, lat), raw(lonEl, lon), raw(tmpEl, tempK)}
}

// --- tests ---

func TestDecode_RegularObservationGrid(t *testing.T) {
	msg := buildMessage(t, obsDescriptors, [][]uint64{
		obsSubset(10, 100, 280.15),
		obsSubset(10, 110, 281.15),
		obsSubset(20, 100, 282.15),
		obsSubset(20, 110, 283.15),
	}, 0x80)

	fields, err := Decode(writeTemp(t, msg))
	require.NoError(t, err)
	require.Len(t, fields, 1)

	field := fields[0]
	assert.InDeltaSlice(t, []float64{280.15, 281.15, 282.15, 283.15}, field.Values, 1e-9)

	lats, ok := field.Meta.Floats("latitudes")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{10, 10, 20, 20}, lats, 1e-9)

	lons, ok := field.Meta.Floats("longitudes")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{100, 110, 100, 110}, lons, 1e-9)

	param, _ := field.Meta.String("parameter")
	assert.Equal(t, "airTemperature", param)

	year, _ := field.Meta.Int("year")
	assert.Equal(t, 2025, year)
	hour, _ := field.Meta.Int("hour")
	assert.Equal(t, 6, hour)
}

func TestDecode_MultipleMessages(t *testing.T) {
	one := buildMessage(t, obsDescriptors, [][]uint64{obsSubset(10, 100, 280.15)}, 0x80)
	two := buildMessage(t, obsDescriptors, [][]uint64{obsSubset(20, 110, 283.15)}, 0x80)

	fields, err := Decode(writeTemp(t, append(one, two...)))
	require.NoError(t, err)
	assert.Len(t, fields, 2)
}

func TestDecode_MissingValueBecomesNaN(t *testing.T) {
	subset := obsSubset(10, 100, 0)
	tmpEl := tableB[fxy(0, 12, 101)]
	subset[6] = missing(tmpEl.bits)

	msg := buildMessage(t, obsDescriptors, [][]uint64{subset}, 0x80)
	fields, err := Decode(writeTemp(t, msg))
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.True(t, math.IsNaN(fields[0].Values[0]))
}

func TestDecode_FixedReplication(t *testing.T) {
	// Replicate (latitude, longitude, temperature) twice within one subset.
	descriptors := []descriptor{
		fxy(0, 4, 1),
		fxy(1, 3, 2), // replicate next 3 descriptors 2 times
		fxy(0, 5, 2),
		fxy(0, 6, 2),
		fxy(0, 12, 101),
	}
	latEl := tableB[fxy(0, 5, 2)]
	lonEl := tableB[fxy(0, 6, 2)]
	tmpEl := tableB[fxy(0, 12, 101)]
	subset := []uint64{
		2025,
		raw(latEl, 10), raw(lonEl, 100), raw(tmpEl, 280.15),
		raw(latEl, 20), raw(lonEl, 100), raw(tmpEl, 281.15),
	}

	msg := buildMessage(t, descriptors, [][]uint64{subset}, 0x80)
	fields, err := Decode(writeTemp(t, msg))
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Len(t, fields[0].Values, 2)

	lats, _ := fields[0].Meta.Floats("latitudes")
	assert.InDeltaSlice(t, []float64{10, 20}, lats, 1e-9)
}

func TestDecode_CompressedDataRejected(t *testing.T) {
	msg := buildMessage(t, obsDescriptors, [][]uint64{obsSubset(10, 100, 280.15)}, 0x80|0x40)
	_, err := Decode(writeTemp(t, msg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compressed")
}

func TestDecode_UnknownDescriptorRejected(t *testing.T) {
	descriptors := []descriptor{fxy(0, 63, 255)}
	sec3Only := buildMessage(t, []descriptor{fxy(0, 4, 1)}, [][]uint64{{2025}}, 0x80)
	// Patch the descriptor in place to avoid expand() failing inside the builder.
	idx := 8 + 22 + 7
	binary.BigEndian.PutUint16(sec3Only[idx:], uint16(descriptors[0]))

	_, err := Decode(writeTemp(t, sec3Only))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the supported table")
}

func TestDecode_NotBufrAtAll(t *testing.T) {
	_, err := Decode(writeTemp(t, []byte("GRIB definitely not bufr")))
	require.Error(t, err)
}

func TestDecode_MessageWithoutStorableQuantities(t *testing.T) {
	// Only a timestamp: no coordinates, no measurement.
	msg := buildMessage(t, []descriptor{fxy(0, 4, 1)}, [][]uint64{{2025}}, 0x80)
	fields, err := Decode(writeTemp(t, msg))
	require.NoError(t, err)
	assert.Empty(t, fields)
}
