package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/creativemri/internal/creative"
)

// maxActiveWeeks caps how many weeks one ad can contribute to the active
// series, so a bad date cannot blow up the computation.
const maxActiveWeeks = 520

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
}

// ParseDate accepts ISO-8601 dates and the "Mon D, YYYY" form. The result is
// truncated to the UTC calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// WeekKey formats t as its ISO week, e.g. "2024-W07".
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// weekStart returns the Monday of t's ISO week.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// WeekCount is a count for one ISO week.
type WeekCount struct {
	Week  string `json:"week"`
	Count int    `json:"count"`
}

// WeekFormats is the per-format launch count for one ISO week.
type WeekFormats struct {
	Week    string         `json:"week"`
	Formats map[string]int `json:"formats"`
}

// TimeSeries holds the week-bucketed aggregates.
type TimeSeries struct {
	LaunchCadence           []WeekCount   `json:"launch_cadence"`
	ActiveCreativesOverTime []WeekCount   `json:"active_creatives_over_time"`
	FormatMixOverTime       []WeekFormats `json:"format_mix_over_time"`
	DatedAds                int           `json:"dated_ads"`
	UndatedAds              int           `json:"undated_ads"`
	FirstStart              string        `json:"first_start,omitempty"`
	LastSeen                string        `json:"last_seen,omitempty"`
}

// ComputeTimeSeries buckets ad starts by ISO week. An ad without an end date
// is treated as live through the latest date observed in the batch. Ads
// whose start date is missing or unparseable are counted as undated and
// left out of every series.
func ComputeTimeSeries(ads []creative.AugmentedAd) TimeSeries {
	type span struct {
		start  time.Time
		end    time.Time
		hasEnd bool
		format string
	}

	var (
		spans    []span
		undated  int
		first    time.Time
		maxSeen  time.Time
		launches = map[string]int{}
		formats  = map[string]map[string]int{}
	)

	for _, ad := range ads {
		start, ok := ParseDate(ad.StartDate)
		if !ok {
			undated++
			continue
		}
		s := span{start: start, format: labelOr(ad.Format, unknownLabel)}
		if end, ok := ParseDate(ad.EndDate); ok {
			s.end, s.hasEnd = end, true
			if end.After(maxSeen) {
				maxSeen = end
			}
		}
		if start.After(maxSeen) {
			maxSeen = start
		}
		if first.IsZero() || start.Before(first) {
			first = start
		}
		spans = append(spans, s)

		wk := WeekKey(start)
		launches[wk]++
		if formats[wk] == nil {
			formats[wk] = map[string]int{}
		}
		formats[wk][s.format]++
	}

	active := map[string]int{}
	for _, s := range spans {
		end := maxSeen
		if s.hasEnd {
			end = s.end
		}
		if end.Before(s.start) {
			end = s.start
		}
		week := weekStart(s.start)
		for i := 0; i < maxActiveWeeks && !week.After(end); i++ {
			active[WeekKey(week)]++
			week = week.AddDate(0, 0, 7)
		}
	}

	ts := TimeSeries{
		LaunchCadence:           sortedWeekCounts(launches),
		ActiveCreativesOverTime: sortedWeekCounts(active),
		FormatMixOverTime:       make([]WeekFormats, 0, len(formats)),
		DatedAds:                len(spans),
		UndatedAds:              undated,
	}
	for _, wk := range sortedKeys(formats) {
		ts.FormatMixOverTime = append(ts.FormatMixOverTime, WeekFormats{Week: wk, Formats: formats[wk]})
	}
	if len(spans) > 0 {
		ts.FirstStart = first.Format("2006-01-02")
		ts.LastSeen = maxSeen.Format("2006-01-02")
	}
	return ts
}

func sortedWeekCounts(m map[string]int) []WeekCount {
	out := make([]WeekCount, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, WeekCount{Week: k, Count: m[k]})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
