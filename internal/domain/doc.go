// Package domain models canonical forecast records decoded from
// hydrometeorological file formats (GRIB, BUFR).
//
// # Canonical record shape
//
// One [ForecastRecord] is produced per decoded grid field. Values are stored
// flattened row-major with GridSizeLat rows and GridSizeLon columns; the
// length invariant len(Values) == GridSizeLat*GridSizeLon always holds. A
// field that cannot be reshaped into a regular grid fails with [DecodeError]
// instead of producing a malformed record.
//
// # Metadata fallback chains
//
// Decoder metadata is unreliable: different centres populate different keys,
// and point-observation formats omit grid attributes entirely. Field reads
// therefore degrade through explicit ordered fallbacks:
//
//	reference time:  dataDate/dataTime → validityDate/validityTime → wall clock
//	forecast offset: step → forecastTime → stepRange "a-b" (take b) → 0
//	spatial bounds:  coordinate arrays → first/last-grid-point attributes → 0.0
//	grid steps:      coordinate array spacing → direction increments → 0.0
//
// A missing timestamp on one field must not abort ingestion of the rest of
// the file, which is why the terminal fallback is the current wall clock
// rather than an error.
//
// # Source resolution
//
// The data source tag is resolved from the file name first (pattern table in
// [ResolveSource]), because model outputs republished by third parties carry
// the publisher's centre code in the binary metadata while the file name
// keeps the model name (e.g. graphcast runs distributed with an ECMWF centre
// code). Embedded centre metadata is only the fallback, and "unknown" the
// terminal default.
package domain
