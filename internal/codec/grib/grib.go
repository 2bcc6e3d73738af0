// Package grib adapts the griblib GRIB2 reader to the codec field shape.
package grib

import (
	"fmt"
	"math"
	"os"

	"github.com/nilsmagnus/grib/griblib"

	"github.com/couchcryptid/forecast-inserter/internal/codec"
)

// Grid-point coordinates and increments are encoded in micro-degrees.
const microDegrees = 1e-6

// centres maps WMO originating-centre codes to provider tags. Only the tag is
// advisory: the file-name heuristic overrides it during canonicalization.
var centres = map[uint16]string{
	7:  "ncep",
	34: "rjtd",
	74: "ukmo",
	78: "dwd",
	98: "ecmwf",
}

// parameters maps (discipline, category, number) to a short parameter name
// and unit for the products this service routinely ingests. Anything else
// falls back to a synthetic p<d>_<c>_<n> name with an empty unit.
var parameters = map[[3]uint8]struct{ name, unit string }{
	{0, 0, 0}: {"t", "K"},
	{0, 1, 0}: {"q", "kg kg**-1"},
	{0, 1, 1}: {"r", "%"},
	{0, 1, 8}: {"tp", "kg m**-2"},
	{0, 2, 2}: {"u", "m s**-1"},
	{0, 2, 3}: {"v", "m s**-1"},
	{0, 3, 0}: {"pres", "Pa"},
	{0, 3, 1}: {"prmsl", "Pa"},
}

var levelTypes = map[uint8]string{
	1:   "surface",
	100: "isobaricInhPa",
	101: "meanSea",
	103: "heightAboveGround",
}

// Decode reads all GRIB2 messages from the file at path and exposes each as
// one codec field.
func Decode(path string) ([]codec.Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grib file: %w", err)
	}
	defer f.Close()

	messages, err := griblib.ReadMessages(f)
	if err != nil {
		return nil, fmt.Errorf("read grib messages: %w", err)
	}

	fields := make([]codec.Field, 0, len(messages))
	for _, msg := range messages {
		fields = append(fields, fieldFromMessage(msg))
	}
	return fields, nil
}

func fieldFromMessage(msg *griblib.Message) codec.Field {
	values := make([]float64, len(msg.Section7.Data))
	for i, v := range msg.Section7.Data {
		values[i] = float64(v)
	}

	meta := codec.Metadata{}

	ref := msg.Section1.ReferenceTime
	meta["dataDate"] = int(ref.Year)*10000 + int(ref.Month)*100 + int(ref.Day)
	meta["dataTime"] = int(ref.Hour)*100 + int(ref.Minute)

	if centre, ok := centres[msg.Section1.OriginatingCenter]; ok {
		meta["centre"] = centre
	}

	product := msg.Section4.ProductDefinitionTemplate
	meta["forecastTime"] = int(product.ForecastTime)

	key := [3]uint8{msg.Section0.Discipline, product.ParameterCategory, product.ParameterNumber}
	if p, ok := parameters[key]; ok {
		meta["shortName"] = p.name
		meta["units"] = p.unit
	} else {
		meta["shortName"] = fmt.Sprintf("p%d_%d_%d", key[0], key[1], key[2])
	}

	surface := product.FirstSurface
	if name, ok := levelTypes[uint8(surface.Type)]; ok {
		meta["typeOfLevel"] = name
	} else {
		meta["typeOfLevel"] = fmt.Sprintf("%d", surface.Type)
	}
	meta["level"] = float64(surface.Value) * math.Pow(10, -float64(surface.Scale))

	if grid, ok := msg.Section3.Definition.(*griblib.Grid0); ok {
		meta["Ni"] = int(grid.Ni)
		meta["Nj"] = int(grid.Nj)
		meta["longitudeOfFirstGridPointInDegrees"] = float64(grid.Lo1) * microDegrees
		meta["longitudeOfLastGridPointInDegrees"] = float64(grid.Lo2) * microDegrees
		meta["latitudeOfFirstGridPointInDegrees"] = float64(grid.La1) * microDegrees
		meta["latitudeOfLastGridPointInDegrees"] = float64(grid.La2) * microDegrees
		meta["iDirectionIncrementInDegrees"] = float64(grid.Di) * microDegrees
		meta["jDirectionIncrementInDegrees"] = float64(grid.Dj) * microDegrees
	}

	return codec.Field{Values: values, Meta: meta}
}
