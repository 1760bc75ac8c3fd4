package domain

import (
	"errors"
	"sort"
	"time"
)

// Featurize is the whole core in one call: normalize history, append the
// current observation when one is given, extract features, and wrap the
// outcome as a FeatureResult.
//
// Insufficient data is not an error here; it comes back as a result with
// StatusInsufficientData and no vectors. Schema and feature-mismatch errors
// are returned as errors.
func Featurize(history RawTable, current *Observation, source string, horizonHours int, cfg PipelineConfig) (FeatureResult, ParseStats, error) {
	table, stats, err := Normalize(history, cfg)
	if err != nil {
		return FeatureResult{}, stats, err
	}
	table, stats.RowsInFuture = dropAfter(table, clock.Now().Add(MaxClockSkew))

	result := FeatureResult{
		Source:       source,
		HorizonHours: horizonHours,
		ProcessedAt:  clock.Now().UTC(),
	}
	if current != nil {
		table = table.AppendRow(current.Time, current.Values())
		result.ObservedAt = current.Time
	} else if !table.Empty() {
		result.ObservedAt = table.Time(table.Len() - 1)
	}
	result.ID = ResultID(source, result.ObservedAt, horizonHours)

	ext, err := Extract(table, cfg)
	switch {
	case errors.Is(err, ErrInsufficientData):
		result.Status = StatusInsufficientData
		return result, stats, nil
	case err != nil:
		return FeatureResult{}, stats, err
	}

	result.Status = StatusOK
	result.HistoryHours = ext.Hours
	result.Vectors = ext.Vectors
	return result, stats, nil
}

// dropAfter removes rows stamped after limit from a sorted table, so a
// mistyped year in the sheet cannot become the latest reading.
func dropAfter(t Table, limit time.Time) (Table, int) {
	n := sort.Search(t.Len(), func(i int) bool { return t.times[i].After(limit) })
	if n == t.Len() {
		return t, 0
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return t.selectRows(idx), t.Len() - n
}
