package domain

import "strings"

// sourcePatterns maps file-name keywords to provider tags, checked in order.
// The file-name heuristic overrides decoder-embedded centre metadata; see the
// package documentation for why.
var sourcePatterns = []struct {
	keywords []string
	source   string
}{
	{[]string{"ecmwf", "era5", "ifs"}, "ecmwf"},
	{[]string{"gfs", "noaa"}, "gfs"},
	{[]string{"icon", "dwd"}, "icon"},
}

// ResolveSource derives the data source tag from the file name, falling back
// to the decoder-reported value when no pattern matches. An empty fallback
// resolves to "unknown".
func ResolveSource(fileName, fallback string) string {
	name := strings.ToLower(fileName)
	for _, p := range sourcePatterns {
		for _, kw := range p.keywords {
			if strings.Contains(name, kw) {
				return p.source
			}
		}
	}
	if fallback == "" {
		return "unknown"
	}
	return fallback
}
