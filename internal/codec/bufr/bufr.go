// Package bufr decodes the narrow BUFR subset emitted by the observation
// feeds this service ingests: edition 3 or 4 messages with uncompressed,
// flat descriptor sequences drawn from a small embedded Table B slice.
// Compressed data, operator descriptors, and sequence descriptors are
// rejected with a decode error rather than guessed at. The package exposes
// the same codec field shape as the GRIB adapter, so a full external codec
// can replace it without touching the pipeline.
package bufr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/forecast-inserter/internal/codec"
)

var magic = []byte("BUFR")

// element describes one Table B entry: bit width, decimal scale, and
// reference value. Decoded value = (raw + reference) / 10^scale.
type element struct {
	name  string
	bits  int
	scale int
	ref   int64
}

// descriptor is an FXY triple packed as F*256*64 + X*256 + Y, matching the
// two-byte wire encoding.
type descriptor uint16

func (d descriptor) f() int { return int(d >> 14) }
func (d descriptor) x() int { return int(d>>8) & 0x3f }
func (d descriptor) y() int { return int(d) & 0xff }

func (d descriptor) String() string {
	return fmt.Sprintf("%d-%02d-%03d", d.f(), d.x(), d.y())
}

func fxy(f, x, y int) descriptor {
	return descriptor(f<<14 | x<<8 | y)
}

// tableB is the slice of WMO Table B this decoder understands. Entries with
// an empty name are decoded (to keep the bit stream aligned) but discarded.
var tableB = map[descriptor]element{
	fxy(0, 1, 1):    {"", 7, 0, 0},  // WMO block number
	fxy(0, 1, 2):    {"", 10, 0, 0}, // WMO station number
	fxy(0, 4, 1):    {"year", 12, 0, 0},
	fxy(0, 4, 2):    {"month", 4, 0, 0},
	fxy(0, 4, 3):    {"day", 6, 0, 0},
	fxy(0, 4, 4):    {"hour", 5, 0, 0},
	fxy(0, 4, 5):    {"minute", 6, 0, 0},
	fxy(0, 5, 1):    {"latitude", 25, 5, -9000000},
	fxy(0, 5, 2):    {"latitude", 15, 2, -9000},
	fxy(0, 6, 1):    {"longitude", 26, 5, -18000000},
	fxy(0, 6, 2):    {"longitude", 16, 2, -18000},
	fxy(0, 7, 1):    {"", 15, 0, -400}, // station height
	fxy(0, 10, 4):   {"pressure", 14, -1, 0},
	fxy(0, 11, 2):   {"windSpeed", 12, 1, 0},
	fxy(0, 12, 1):   {"temperature", 12, 1, 0},
	fxy(0, 12, 101): {"airTemperature", 16, 2, 0},
	fxy(0, 13, 11):  {"totalPrecipitation", 14, 1, -1},
}

// measurementPriority selects which decoded quantity becomes the field's
// parameter when a message carries several.
var measurementPriority = []string{
	"airTemperature", "temperature", "windSpeed", "totalPrecipitation", "pressure",
}

// Decode reads all BUFR messages from the file at path. Each message becomes
// one codec field carrying the measurement values of every subset plus
// parallel latitude/longitude arrays in the metadata.
func Decode(path string) ([]codec.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open bufr file: %w", err)
	}

	var fields []codec.Field
	offset := 0
	for {
		start := indexOfMagic(data, offset)
		if start < 0 {
			break
		}

		msg, length, err := decodeMessage(data[start:])
		if err != nil {
			return nil, fmt.Errorf("bufr message at offset %d: %w", start, err)
		}
		if msg != nil {
			fields = append(fields, *msg)
		}
		offset = start + length
	}

	if len(fields) == 0 && indexOfMagic(data, 0) < 0 {
		return nil, errors.New("no BUFR messages found")
	}
	return fields, nil
}

func indexOfMagic(data []byte, from int) int {
	for i := from; i+len(magic) <= len(data); i++ {
		if string(data[i:i+4]) == string(magic) {
			return i
		}
	}
	return -1
}

// decodeMessage decodes a single message starting at data[0] (which holds the
// magic). Returns nil without error for messages that carry none of the
// quantities this service stores.
func decodeMessage(data []byte) (*codec.Field, int, error) {
	if len(data) < 8 {
		return nil, 0, errors.New("truncated section 0")
	}
	total := int(uint24(data[4:7]))
	edition := int(data[7])
	if edition != 3 && edition != 4 {
		return nil, 0, fmt.Errorf("unsupported edition %d", edition)
	}
	if total > len(data) || total < 8 {
		return nil, 0, fmt.Errorf("message length %d out of bounds", total)
	}
	body := data[:total]

	pos := 8 // section 1 start

	sec1, err := section(body, pos)
	if err != nil {
		return nil, 0, fmt.Errorf("section 1: %w", err)
	}
	dataCategory, hasSection2 := section1Info(sec1, edition)
	pos += len(sec1)

	if hasSection2 {
		sec2, err := section(body, pos)
		if err != nil {
			return nil, 0, fmt.Errorf("section 2: %w", err)
		}
		pos += len(sec2)
	}

	sec3, err := section(body, pos)
	if err != nil {
		return nil, 0, fmt.Errorf("section 3: %w", err)
	}
	pos += len(sec3)

	if len(sec3) < 8 {
		return nil, 0, errors.New("section 3 too short")
	}
	subsets := int(binary.BigEndian.Uint16(sec3[4:6]))
	flags := sec3[6]
	if flags&0x40 != 0 {
		return nil, 0, errors.New("compressed data is not supported")
	}
	if subsets == 0 {
		return nil, 0, errors.New("message declares zero subsets")
	}

	var descriptors []descriptor
	for i := 7; i+1 < len(sec3); i += 2 {
		descriptors = append(descriptors, descriptor(binary.BigEndian.Uint16(sec3[i:i+2])))
	}

	sec4, err := section(body, pos)
	if err != nil {
		return nil, 0, fmt.Errorf("section 4: %w", err)
	}
	if len(sec4) < 4 {
		return nil, 0, errors.New("section 4 too short")
	}

	elements, err := expand(descriptors)
	if err != nil {
		return nil, 0, err
	}

	field, err := decodeSubsets(sec4[4:], elements, subsets, dataCategory)
	if err != nil {
		return nil, 0, err
	}
	return field, total, nil
}

// section returns the length-prefixed section starting at pos.
func section(body []byte, pos int) ([]byte, error) {
	if pos+3 > len(body) {
		return nil, errors.New("truncated section header")
	}
	length := int(uint24(body[pos : pos+3]))
	if length < 3 || pos+length > len(body) {
		return nil, fmt.Errorf("section length %d out of bounds", length)
	}
	return body[pos : pos+length], nil
}

// section1Info extracts the data category and the optional-section flag; the
// octet layout differs between editions 3 and 4.
func section1Info(sec1 []byte, edition int) (category int, hasSection2 bool) {
	catIdx, flagIdx := 8, 7
	if edition == 4 {
		catIdx, flagIdx = 10, 9
	}
	if catIdx < len(sec1) {
		category = int(sec1[catIdx])
	}
	if flagIdx < len(sec1) {
		hasSection2 = sec1[flagIdx]&0x80 != 0
	}
	return category, hasSection2
}

// expand flattens the descriptor sequence. Element descriptors must be in the
// embedded table; fixed replication is expanded in place; delayed replication,
// operators, and sequences are rejected.
func expand(descriptors []descriptor) ([]element, error) {
	var out []element
	i := 0
	for i < len(descriptors) {
		d := descriptors[i]
		switch d.f() {
		case 0:
			el, ok := tableB[d]
			if !ok {
				return nil, fmt.Errorf("descriptor %s is not in the supported table", d)
			}
			out = append(out, el)
			i++
		case 1:
			count := d.x()
			times := d.y()
			if times == 0 {
				return nil, fmt.Errorf("delayed replication %s is not supported", d)
			}
			if i+1+count > len(descriptors) {
				return nil, fmt.Errorf("replication %s exceeds descriptor list", d)
			}
			group, err := expand(descriptors[i+1 : i+1+count])
			if err != nil {
				return nil, err
			}
			for r := 0; r < times; r++ {
				out = append(out, group...)
			}
			i += 1 + count
		default:
			return nil, fmt.Errorf("descriptor %s (F=%d) is not supported", d, d.f())
		}
	}
	return out, nil
}

// decodeSubsets walks the uncompressed bit stream once per subset and
// assembles a codec field from the decoded quantities.
func decodeSubsets(stream []byte, elements []element, subsets, dataCategory int) (*codec.Field, error) {
	r := &bitReader{data: stream}

	byName := make(map[string][]float64)
	for s := 0; s < subsets; s++ {
		for _, el := range elements {
			raw, err := r.read(el.bits)
			if err != nil {
				return nil, fmt.Errorf("subset %d: %w", s, err)
			}
			if el.name == "" {
				continue
			}
			if raw == missing(el.bits) {
				byName[el.name] = append(byName[el.name], math.NaN())
				continue
			}
			value := (float64(int64(raw)+el.ref)) / math.Pow(10, float64(el.scale))
			byName[el.name] = append(byName[el.name], value)
		}
	}

	var parameter string
	for _, name := range measurementPriority {
		if len(byName[name]) > 0 {
			parameter = name
			break
		}
	}
	if parameter == "" || len(byName["latitude"]) == 0 || len(byName["longitude"]) == 0 {
		// Nothing storable in this message.
		return nil, nil
	}

	meta := codec.Metadata{
		"latitudes":    byName["latitude"],
		"longitudes":   byName["longitude"],
		"parameter":    parameter,
		"dataCategory": fmt.Sprintf("%d", dataCategory),
	}
	for _, key := range []string{"year", "month", "day", "hour"} {
		if vs := byName[key]; len(vs) > 0 && !math.IsNaN(vs[0]) {
			meta[key] = int(vs[0])
		}
	}

	return &codec.Field{Values: byName[parameter], Meta: meta}, nil
}

// missing returns the all-ones pattern that BUFR uses as the missing marker.
func missing(bits int) uint64 {
	return 1<<uint(bits) - 1
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// bitReader reads big-endian bit fields from a byte stream.
type bitReader struct {
	data []byte
	pos  int // bit offset
}

func (r *bitReader) read(bits int) (uint64, error) {
	if bits <= 0 || bits > 64 {
		return 0, fmt.Errorf("invalid bit width %d", bits)
	}
	if r.pos+bits > len(r.data)*8 {
		return 0, errors.New("bit stream exhausted")
	}
	var v uint64
	for i := 0; i < bits; i++ {
		byteIdx := (r.pos + i) / 8
		bitIdx := 7 - (r.pos+i)%8
		v = v<<1 | uint64(r.data[byteIdx]>>uint(bitIdx))&1
	}
	r.pos += bits
	return v, nil
}
