package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null"
)

// RawTable is tabular input exactly as a collaborator delivered it: a header
// row and string cells. Index optionally carries one time per row and is used
// when no header maps to the timestamp column.
type RawTable struct {
	Header []string
	Rows   [][]string
	Index  []time.Time
}

// ParseStats counts row-level anomalies the normalizer recovered from.
type ParseStats struct {
	RowsIn              int
	RowsDropped         int // empty or unparseable timestamp
	ValuesCoerced       int // non-empty numeric cells that did not parse
	DuplicateTimestamps int // rows superseded by a later row with the same time
	RowsInFuture        int // stamped later than MaxClockSkew past the clock
}

var (
	// zonedLayouts carry their own offset; the instant is preserved.
	zonedLayouts = []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02T15:04:05-0700",
	}

	// naiveLayouts are read as UTC. Slash and dash dates are day-first.
	naiveLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
		"2/1/2006 15:04:05",
		"2/1/2006 15:04",
		"2/1/2006 15.04.05",
		"2/1/2006 15.04",
		"2/1/2006",
		"2-1-2006 15:04:05",
		"2-1-2006 15:04",
		"2-1-2006 15.04.05",
		"2-1-2006 15.04",
		"2-1-2006",
	}
)

// Normalize converts a raw table into an observation table: canonical column
// names, numeric cells, timestamps in the configured zone, ascending and
// unique by time.
//
// An empty or header-only input yields an empty table and no error. Rows with
// a bad timestamp are dropped and bad numbers become missing; neither is an
// error. Only a table that has rows but no way to obtain their timestamps
// fails, with ErrSchema.
func Normalize(raw RawTable, cfg PipelineConfig) (Table, ParseStats, error) {
	stats := ParseStats{RowsIn: len(raw.Rows)}
	if len(raw.Rows) == 0 {
		return NewTable(), stats, nil
	}

	tsCol := -1
	var names []string
	var cols []int
	seen := make(map[string]bool)
	for j, h := range raw.Header {
		name, ok := cfg.canonicalName(strings.TrimSpace(h))
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		if name == ColTimestamp {
			tsCol = j
			continue
		}
		names = append(names, name)
		cols = append(cols, j)
	}

	useIndex := tsCol < 0 && len(raw.Index) == len(raw.Rows)
	if tsCol < 0 && !useIndex {
		return Table{}, stats, ErrSchema
	}

	loc := cfg.location()
	out := NewTable(names...)
	for i, row := range raw.Rows {
		var ts time.Time
		if useIndex {
			ts = raw.Index[i]
		} else {
			var ok bool
			ts, ok = ParseTimestamp(cell(row, tsCol))
			if !ok {
				stats.RowsDropped++
				continue
			}
		}
		if ts.IsZero() {
			stats.RowsDropped++
			continue
		}

		out.times = append(out.times, ts.In(loc))
		for k, name := range names {
			var v null.Float
			if name == ColWeatherCode {
				v = ParseWeatherCode(cell(row, cols[k]))
			} else {
				var coerced bool
				if v, coerced = ParseNumber(cell(row, cols[k])); coerced {
					stats.ValuesCoerced++
				}
			}
			out.columns[name] = append(out.columns[name], v)
		}
	}

	out, dups := sortDedup(out)
	stats.DuplicateTimestamps = dups
	return out, stats, nil
}

// ParseTimestamp parses a locale-formatted timestamp. Naive values are taken
// as UTC; values with an offset keep their instant.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNumber parses a numeric cell, accepting a decimal comma ("28,5").
// Empty cells are missing. coerced reports a non-empty cell that could not be
// parsed and was turned into a missing value.
func ParseNumber(s string) (v null.Float, coerced bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Float{}, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Float{}, true
	}
	return null.FloatFrom(f), false
}

// WeatherCodeUnknown stands for a weather description that has no WMO code.
const WeatherCodeUnknown = -1

// weatherDescriptions maps the collector's Indonesian descriptions, lower
// case, to WMO weather codes.
var weatherDescriptions = map[string]float64{
	"cerah":         0,
	"cerah berawan": 1,
	"berawan":       2,
	"berawan tebal": 3,
	"kabut":         45,
	"hujan ringan":  61,
	"hujan sedang":  63,
	"hujan lebat":   65,
	"hujan petir":   95,
	"badai petir":   95,
	"gerimis":       51,
}

// ParseWeatherCode reads the weather column, which is categorical: a numeric
// WMO code, or a free-text description. Known descriptions map to their code
// and any other non-empty text is WeatherCodeUnknown. Only an empty cell is
// missing.
func ParseWeatherCode(s string) null.Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Float{}
	}
	if v, coerced := ParseNumber(s); !coerced {
		return v
	}
	if code, ok := weatherDescriptions[strings.ToLower(strings.Join(strings.Fields(s), " "))]; ok {
		return null.FloatFrom(code)
	}
	return null.FloatFrom(WeatherCodeUnknown)
}

// Reconcile makes a table safe to feed into feature engineering regardless of
// how well it was prepared: rows without a timestamp are dropped, column names
// go through the alias table, repeated names keep their first column, and
// times move into the configured zone. Applying it twice changes nothing.
func Reconcile(t Table, cfg PipelineConfig) Table {
	loc := cfg.location()

	var keep []int
	for i, ts := range t.times {
		if !ts.IsZero() {
			keep = append(keep, i)
		}
	}
	src := t.selectRows(keep)

	var names []string
	from := make(map[string]string)
	for _, n := range src.names {
		name := n
		if canon, ok := cfg.canonicalName(n); ok {
			name = canon
		}
		if _, dup := from[name]; dup {
			continue
		}
		from[name] = n
		names = append(names, name)
	}

	out := NewTable(names...)
	out.times = make([]time.Time, len(src.times))
	for i, ts := range src.times {
		out.times[i] = ts.In(loc)
	}
	for _, name := range names {
		out.columns[name] = src.columns[from[name]]
	}
	return out
}

// sortDedup orders rows by time and collapses equal timestamps to the row
// that came last in the input. It returns the number of rows removed.
func sortDedup(t Table) (Table, int) {
	idx := make([]int, t.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return t.times[idx[a]].Before(t.times[idx[b]])
	})

	keep := make([]int, 0, len(idx))
	for k, i := range idx {
		if k+1 < len(idx) && t.times[idx[k+1]].Equal(t.times[i]) {
			continue
		}
		keep = append(keep, i)
	}
	return t.selectRows(keep), len(idx) - len(keep)
}

func cell(row []string, j int) string {
	if j < 0 || j >= len(row) {
		return ""
	}
	return row[j]
}
