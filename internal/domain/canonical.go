package domain

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/forecast-inserter/internal/codec"
)

// CanonicalizeGrid turns decoded gridded fields (GRIB-style) into canonical
// records. Fields are emitted in decoder order; no reordering or per-record
// deduplication happens here.
func CanonicalizeGrid(fields []codec.Field, fileName string) ([]ForecastRecord, error) {
	records := make([]ForecastRecord, 0, len(fields))

	for i, field := range fields {
		if len(field.Values) == 0 {
			continue
		}

		rows, cols := gridShape(field)
		if len(field.Values) != rows*cols {
			return nil, &DecodeError{
				FileName: fileName,
				Reason:   fmt.Sprintf("field %d: %d values do not fill a %dx%d grid", i, len(field.Values), rows, cols),
			}
		}

		minLon, maxLon, minLat, maxLat, lonStep, latStep := gridBounds(field.Meta)

		embedded, _ := field.Meta.String("centre")
		parameter, ok := field.Meta.String("shortName", "name")
		if !ok {
			parameter = "unknown"
		}
		unit, _ := field.Meta.String("units")
		surfaceType, ok := field.Meta.String("typeOfLevel")
		if !ok {
			surfaceType = "surface"
		}
		surfaceValue, _ := field.Meta.Float("level")

		records = append(records, ForecastRecord{
			ID:            uuid.NewString(),
			ForecastDate:  referenceTime(field.Meta),
			ForecastHour:  forecastOffset(field.Meta),
			DataSource:    ResolveSource(fileName, embedded),
			Parameter:     parameter,
			ParameterUnit: unit,
			SurfaceType:   surfaceType,
			SurfaceValue:  surfaceValue,
			MinLon:        minLon,
			MaxLon:        maxLon,
			MinLat:        minLat,
			MaxLat:        maxLat,
			LonStep:       lonStep,
			LatStep:       latStep,
			GridSizeLat:   rows,
			GridSizeLon:   cols,
			Values:        field.Values,
			FileName:      fileName,
		})
	}

	return records, nil
}

// CanonicalizeObservations turns decoded point observations (BUFR-style) into
// canonical records by inferring a regular grid from the distinct sorted
// latitudes and longitudes. Observation sets whose values do not exactly fill
// the inferred grid are a hard decode error: truncating or padding would
// store a lie.
func CanonicalizeObservations(fields []codec.Field, fileName string) ([]ForecastRecord, error) {
	records := make([]ForecastRecord, 0, len(fields))

	for _, field := range fields {
		lats, okLat := field.Meta.Floats("latitudes")
		lons, okLon := field.Meta.Floats("longitudes")
		if len(field.Values) == 0 || !okLat || !okLon {
			// Not suitable for the gridded schema; skip the set, not the file.
			continue
		}

		uniqueLats := sortedDistinct(lats)
		uniqueLons := sortedDistinct(lons)
		rows, cols := len(uniqueLats), len(uniqueLons)

		if len(field.Values) != rows*cols {
			return nil, &DecodeError{
				FileName: fileName,
				Reason:   fmt.Sprintf("observations do not form a regular grid: %d values for %d lats x %d lons", len(field.Values), rows, cols),
			}
		}

		embedded, _ := field.Meta.String("dataCategory")
		parameter, ok := field.Meta.String("parameter")
		if !ok {
			parameter = "unknown"
		}

		records = append(records, ForecastRecord{
			ID:            uuid.NewString(),
			ForecastDate:  observationTime(field.Meta),
			ForecastHour:  0,
			DataSource:    ResolveSource(fileName, embedded),
			Parameter:     parameter,
			ParameterUnit: "",
			SurfaceType:   "surface",
			SurfaceValue:  0,
			MinLon:        uniqueLons[0],
			MaxLon:        uniqueLons[cols-1],
			MinLat:        uniqueLats[0],
			MaxLat:        uniqueLats[rows-1],
			LonStep:       meanSpacing(uniqueLons),
			LatStep:       meanSpacing(uniqueLats),
			GridSizeLat:   rows,
			GridSizeLon:   cols,
			Values:        field.Values,
			FileName:      fileName,
		})
	}

	return records, nil
}

// gridShape resolves (rows, cols) from explicit dimensions, then coordinate
// array lengths, then degrades to a single-column 1-D field.
func gridShape(field codec.Field) (rows, cols int) {
	nj, okJ := field.Meta.Int("Nj")
	ni, okI := field.Meta.Int("Ni")
	if okJ && okI && nj > 0 && ni > 0 {
		return nj, ni
	}

	lats, okLat := field.Meta.Floats("latitudes")
	lons, okLon := field.Meta.Floats("longitudes")
	if okLat && okLon {
		return len(lats), len(lons)
	}

	return len(field.Values), 1
}

// gridBounds resolves spatial bounds and steps from coordinate arrays when
// present, degrading to grid-point attributes. Bounds always resolve to some
// numeric value; only the steps may degrade to 0.0.
func gridBounds(meta codec.Metadata) (minLon, maxLon, minLat, maxLat, lonStep, latStep float64) {
	lats, okLat := meta.Floats("latitudes")
	lons, okLon := meta.Floats("longitudes")
	if okLat && okLon {
		minLat, maxLat = minMax(lats)
		minLon, maxLon = minMax(lons)
		latStep = meanSpacing(sortedDistinct(lats))
		lonStep = meanSpacing(sortedDistinct(lons))
		return
	}

	minLon, _ = meta.Float("longitudeOfFirstGridPointInDegrees")
	maxLon, _ = meta.Float("longitudeOfLastGridPointInDegrees")
	// GRIB scans north to south: the first grid point carries the max latitude.
	maxLat, _ = meta.Float("latitudeOfFirstGridPointInDegrees")
	minLat, _ = meta.Float("latitudeOfLastGridPointInDegrees")
	lonStep, _ = meta.Float("iDirectionIncrementInDegrees", "DxInDegrees")
	latStep, _ = meta.Float("jDirectionIncrementInDegrees", "DyInDegrees")
	return
}

// referenceTime reads the field's reference time with graceful fallback:
// dataDate/dataTime first, validity aliases second, current wall clock on
// total absence. A missing timestamp never fails the file.
func referenceTime(meta codec.Metadata) time.Time {
	date, okDate := meta.Int("dataDate", "validityDate")
	if !okDate {
		return clock.Now().UTC()
	}
	hhmm, _ := meta.Int("dataTime", "validityTime")

	year := date / 10000
	month := (date / 100) % 100
	day := date % 100
	hour := hhmm
	if hhmm >= 100 {
		hour = hhmm / 100
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour < 0 || hour > 23 {
		return clock.Now().UTC()
	}

	return time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
}

// forecastOffset reads the lead time in hours: explicit step field, then the
// forecast-time alias, then the tail of a range expression like "0-6", then 0.
func forecastOffset(meta codec.Metadata) int {
	if step, ok := meta.Int("step"); ok && step >= 0 {
		return step
	}
	if ft, ok := meta.Int("forecastTime"); ok && ft >= 0 {
		return ft
	}
	if r, ok := meta.String("stepRange"); ok {
		if idx := strings.LastIndex(r, "-"); idx >= 0 {
			if n, err := strconv.Atoi(r[idx+1:]); err == nil && n >= 0 {
				return n
			}
		} else if n, err := strconv.Atoi(r); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// observationTime assembles a timestamp from per-message date components,
// substituting wall-clock components for any that are absent.
func observationTime(meta codec.Metadata) time.Time {
	now := clock.Now().UTC()
	year, ok := meta.Int("year")
	if !ok {
		year = now.Year()
	}
	month, ok := meta.Int("month")
	if !ok {
		month = int(now.Month())
	}
	day, ok := meta.Int("day")
	if !ok {
		day = now.Day()
	}
	hour, _ := meta.Int("hour")

	return time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
}

func sortedDistinct(values []float64) []float64 {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

// meanSpacing returns the mean absolute spacing between adjacent samples, or
// 0.0 for fewer than two samples.
func meanSpacing(sorted []float64) float64 {
	if len(sorted) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(sorted); i++ {
		sum += math.Abs(sorted[i] - sorted[i-1])
	}
	return sum / float64(len(sorted)-1)
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return
}
