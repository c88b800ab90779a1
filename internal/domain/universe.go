package domain

import (
	"sort"
	"time"
)

// UniverseSnapshot maps a period key ("YYYY-MM-01", the first calendar day of
// the month) to the ordered list of coin ids that ranked in the top N by
// average market cap during that month. Membership for a period is computed
// only from data dated within or before it, so the snapshot is free of
// look-ahead and survivorship bias.
type UniverseSnapshot map[string][]string

// PeriodKey formats the month containing t as a snapshot key.
func PeriodKey(t time.Time) string {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// ParsePeriodKey parses a snapshot key back into its period-start date.
func ParsePeriodKey(key string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", key, time.UTC)
}

// Periods returns the snapshot's period keys in ascending order.
func (u UniverseSnapshot) Periods() []string {
	keys := make([]string, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssetIDs returns the distinct coin ids referenced by any period, sorted.
func (u UniverseSnapshot) AssetIDs() []string {
	seen := make(map[string]struct{})
	for _, ids := range u {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
