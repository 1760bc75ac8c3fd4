package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/guregu/null"
	"github.com/hashicorp/go-multierror"
)

// Extraction is the outcome of a successful feature extraction.
type Extraction struct {
	// Vectors holds one vector per configured feature set, in config order.
	Vectors []FeatureVector
	// Hours is the length of the hourly grid the features were derived from.
	Hours int
}

// Engineer resamples an observation table onto an hourly grid and derives
// calendar and lag features. It never drops rows for missing values; that is
// left to Extract.
func Engineer(t Table, cfg PipelineConfig) Table {
	t = Reconcile(t, cfg)
	t, _ = sortDedup(t)
	t = limitSpan(t, cfg.maxHistory())
	t = Resample(t)
	t = AddCalendarFeatures(t)
	return AddLagFeatures(t, cfg.Lags)
}

// Extract runs the full feature pipeline and returns one vector per feature
// set in cfg. It returns ErrInsufficientData when no row qualifies and a
// *FeatureMismatchError when a qualifying row lacks a declared feature.
func Extract(t Table, cfg PipelineConfig) (Extraction, error) {
	frame := Engineer(t, cfg)
	if frame.Empty() {
		return Extraction{}, ErrInsufficientData
	}

	rows := make([]Row, len(cfg.FeatureSets))
	switch cfg.Completeness {
	case CompletenessAllColumns:
		i, ok := latestComplete(frame, frame.names)
		if !ok {
			return Extraction{}, ErrInsufficientData
		}
		row := backfillTemperature(frame.Row(i), frame, i)
		for k := range rows {
			rows[k] = row
		}
	default:
		var absent *multierror.Error
		for _, set := range cfg.FeatureSets {
			if names := absentColumns(frame, set.Features); len(names) > 0 {
				absent = multierror.Append(absent, &FeatureMismatchError{Set: set.Name, Missing: names})
			}
		}
		if err := absent.ErrorOrNil(); err != nil {
			return Extraction{}, err
		}
		for k, set := range cfg.FeatureSets {
			i, ok := latestComplete(frame, set.Features)
			if !ok {
				return Extraction{}, ErrInsufficientData
			}
			rows[k] = backfillTemperature(frame.Row(i), frame, i)
		}
	}

	var merr *multierror.Error
	out := Extraction{Hours: frame.Len()}
	for k, set := range cfg.FeatureSets {
		vec, err := Project(rows[k], set)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		out.Vectors = append(out.Vectors, vec)
	}
	if err := merr.ErrorOrNil(); err != nil {
		return Extraction{}, err
	}
	return out, nil
}

// Resample places the table on an hourly grid from the hour containing the
// first row to the hour containing the last. A grid hour that matches a row
// exactly takes that row as is. Any other grid hour carries forward, column by
// column, the last non-missing value observed at or before it. Grid hours
// before the first row stay missing.
//
// The input must be sorted by time and unique.
func Resample(t Table) Table {
	out := NewTable(t.names...)
	if t.Empty() {
		return out
	}

	loc := t.times[0].Location()
	start := floorHour(t.times[0])
	end := floorHour(t.times[t.Len()-1])
	hours := int((end.Unix()-start.Unix())/3600) + 1

	out.times = make([]time.Time, hours)
	for h := range out.times {
		out.times[h] = start.Add(time.Duration(h) * time.Hour).In(loc)
	}

	for _, n := range t.names {
		src := t.columns[n]
		col := make([]null.Float, hours)
		last := null.Float{}
		j := 0
		for h, g := range out.times {
			exact := -1
			for j < t.Len() && !t.times[j].After(g) {
				if src[j].Valid {
					last = src[j]
				}
				if t.times[j].Equal(g) {
					exact = j
				}
				j++
			}
			if exact >= 0 {
				col[h] = src[exact]
				continue
			}
			col[h] = last
		}
		out.columns[n] = col
	}
	return out
}

// AddCalendarFeatures adds hour_of_day (0-23) and day_of_week (0 = Monday)
// derived from each row's own timestamp.
func AddCalendarFeatures(t Table) Table {
	hour := make([]null.Float, t.Len())
	dow := make([]null.Float, t.Len())
	for i, ts := range t.times {
		hour[i] = null.FloatFrom(float64(ts.Hour()))
		dow[i] = null.FloatFrom(float64((int(ts.Weekday()) + 6) % 7))
	}
	return t.WithColumn(FeatHourOfDay, hour).WithColumn(FeatDayOfWeek, dow)
}

// AddLagFeatures adds, for every spec, the column shifted down by each offset
// in rows. The first k rows of a k-hour lag are missing. Specs naming a column
// the table does not have are skipped.
func AddLagFeatures(t Table, lags []LagSpec) Table {
	for _, spec := range lags {
		src, ok := t.Column(spec.Column)
		if !ok {
			continue
		}
		for _, k := range spec.Hours {
			t = t.WithColumn(LagName(spec.Column, k), shift(src, k))
		}
	}
	return t
}

func shift(src []null.Float, k int) []null.Float {
	out := make([]null.Float, len(src))
	for i := range out {
		if j := i - k; j >= 0 && j < len(src) {
			out[i] = src[j]
		}
	}
	return out
}

// limitSpan drops rows whose hour falls more than span before the hour of the
// last row, so the hourly grid has at most span/time.Hour rows. The input
// must be sorted.
func limitSpan(t Table, span time.Duration) Table {
	if t.Empty() {
		return t
	}
	cutoff := floorHour(t.times[t.Len()-1]).Add(-span + time.Hour)
	first := sort.Search(t.Len(), func(i int) bool { return !t.times[i].Before(cutoff) })
	if first == 0 {
		return t
	}
	idx := make([]int, 0, t.Len()-first)
	for i := first; i < t.Len(); i++ {
		idx = append(idx, i)
	}
	return t.selectRows(idx)
}

// floorHour truncates to the start of the wall-clock hour in ts's zone.
func floorHour(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, ts.Location())
}

// latestComplete returns the index of the last row with a value in every one
// of the given columns. A column the table lacks is never complete.
func latestComplete(t Table, columns []string) (int, bool) {
	for i := t.Len() - 1; i >= 0; i-- {
		if rowComplete(t, i, columns) {
			return i, true
		}
	}
	return 0, false
}

func absentColumns(t Table, columns []string) []string {
	var out []string
	for _, c := range columns {
		if !t.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func rowComplete(t Table, i int, columns []string) bool {
	for _, c := range columns {
		if !t.Value(i, c).Valid {
			return false
		}
	}
	return true
}

// backfillTemperature restores the raw temperature on the chosen row when it
// is missing there but known earlier in the unlagged series.
func backfillTemperature(row Row, frame Table, at int) Row {
	if v, ok := row.Values[ColTemperature]; ok && v.Valid {
		return row
	}
	for i := at; i >= 0; i-- {
		if v := frame.Value(i, ColTemperature); v.Valid {
			row.Values[ColTemperature] = v
			return row
		}
	}
	return row
}

// IsInsufficientData reports whether err means "need more history".
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}
