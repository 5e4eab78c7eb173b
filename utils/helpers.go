package utils

// Suffixes of the ClickHouse toStartOf<interval> family that the archive
// queries splice into SQL, so anything else must be rejected up front.
var validIntervals = map[string]struct{}{
	"Minute":  {},
	"Hour":    {},
	"Day":     {},
	"Week":    {},
	"Month":   {},
	"Quarter": {},
	"Year":    {},
}

// IsValidInterval reports whether interval names a supported time bucket.
func IsValidInterval(interval string) bool {
	_, ok := validIntervals[interval]
	return ok
}
