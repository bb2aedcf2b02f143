package dtmodule

import (
	"fmt"
	"time"
)

// buildTimeLayouts are the formats build times appear in, depending on the
// index source: bare fractional-second timestamps and full RFC 3339.
var buildTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseBuildTime parses an image build time leniently. Comparisons must use
// the returned absolute instant, not the raw strings.
func ParseBuildTime(s string) (time.Time, error) {
	for _, layout := range buildTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("build time %q: %w", s, ErrParse)
}
