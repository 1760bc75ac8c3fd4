package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResample(t *testing.T) {
	cfg := testConfig(t)
	raw := RawTable{
		Header: []string{"timestamp", "temperature", "humidity"},
		Rows: [][]string{
			{"2024-03-04 00:00:00", "10", ""},
			{"2024-03-04 01:30:00", "11", "60"},
			{"2024-03-04 03:00:00", "13", ""},
		},
	}
	table, _, err := Normalize(raw, cfg)
	require.NoError(t, err)

	grid := Resample(table)
	require.Equal(t, 4, grid.Len())
	for h := 0; h < 4; h++ {
		assert.Equal(t, 8+h, grid.Time(h).Hour())
		assert.Zero(t, grid.Time(h).Minute())
	}

	temps := []float64{10, 10, 11, 13}
	for h, want := range temps {
		assert.Equal(t, want, grid.Value(h, ColTemperature).Float64, "hour %d", h)
	}

	assert.False(t, grid.Value(0, ColHumidity).Valid, "nothing to carry before the first value")
	assert.False(t, grid.Value(1, ColHumidity).Valid, "01:30 is after the 01:00 grid point")
	assert.Equal(t, 60.0, grid.Value(2, ColHumidity).Float64)
	assert.False(t, grid.Value(3, ColHumidity).Valid, "exact row is taken as is")
}

func TestResampleNonHourOffset(t *testing.T) {
	cfg := testConfig(t)
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	cfg.Location = kolkata

	raw := RawTable{
		Header: []string{"timestamp", "temperature"},
		Rows: [][]string{
			{"2024-03-04 00:00:00", "10"},
			{"2024-03-04 02:00:00", "12"},
		},
	}
	table, _, err := Normalize(raw, cfg)
	require.NoError(t, err)

	grid := Resample(table)
	for i := 0; i < grid.Len(); i++ {
		assert.Zero(t, grid.Time(i).Minute(), "grid aligned to local wall-clock hours")
	}
	assert.Equal(t, 3, grid.Len())
}

func TestAddCalendarFeatures(t *testing.T) {
	cfg := testConfig(t)
	table, _, err := Normalize(sheetHistory(24), cfg)
	require.NoError(t, err)

	out := AddCalendarFeatures(table)
	// 2024-03-04 08:00 WITA is a Monday.
	assert.Equal(t, 8.0, out.Value(0, FeatHourOfDay).Float64)
	assert.Equal(t, 0.0, out.Value(0, FeatDayOfWeek).Float64)
	// 16 hours later crosses midnight into Tuesday.
	assert.Equal(t, 0.0, out.Value(16, FeatHourOfDay).Float64)
	assert.Equal(t, 1.0, out.Value(16, FeatDayOfWeek).Float64)
	assert.Equal(t, 7.0, out.Value(23, FeatHourOfDay).Float64)
}

func TestAddLagFeatures(t *testing.T) {
	in := NewTable(ColTemperature)
	for i := 0; i < 4; i++ {
		in = in.AppendRow(testStart.Add(time.Duration(i)*time.Hour), map[string]null.Float{ColTemperature: null.FloatFrom(float64(i))})
	}

	out := AddLagFeatures(in, []LagSpec{
		{Column: ColTemperature, Hours: []int{1, 3}},
		{Column: "pressure", Hours: []int{1}},
	})

	assert.False(t, out.Has("pressure_lag_1h"))
	lag1, ok := out.Column(LagName(ColTemperature, 1))
	require.True(t, ok)
	assert.False(t, lag1[0].Valid)
	assert.Equal(t, 2.0, lag1[3].Float64)

	lag3, ok := out.Column(LagName(ColTemperature, 3))
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		assert.False(t, lag3[i].Valid)
	}
	assert.Equal(t, 0.0, lag3[3].Float64)

	orig, _ := in.Column(ColTemperature)
	assert.Len(t, orig, 4)
	assert.False(t, in.Has(LagName(ColTemperature, 1)), "input table untouched")
}

func TestExtractLagBoundary(t *testing.T) {
	cfg := testConfig(t)

	t.Run("25 hours yields exactly one complete row", func(t *testing.T) {
		table, _, err := Normalize(sheetHistory(25), cfg)
		require.NoError(t, err)

		ext, err := Extract(table, cfg)
		require.NoError(t, err)
		assert.Equal(t, 25, ext.Hours)
		require.Len(t, ext.Vectors, 2)

		temp := ext.Vectors[0]
		assert.Equal(t, TemperatureFeatures.Name, temp.Set)
		assert.Equal(t, TemperatureFeatures.Features, temp.Features)
		assert.Equal(t, map[string]float64{
			ColTemperature:              44.5,
			ColHumidity:                 94,
			FeatHourOfDay:               8,
			LagName(ColTemperature, 1):  43.5,
			LagName(ColTemperature, 24): 20.5,
			LagName(ColHumidity, 1):     93,
		}, temp.Values)

		rain := ext.Vectors[1]
		assert.Equal(t, RainfallFeatures.Name, rain.Set)
		assert.Equal(t, map[string]float64{
			ColRainfall:                0,
			FeatHourOfDay:              8,
			ColHumidity:                94,
			LagName(ColTemperature, 2): 42.5,
			FeatDayOfWeek:              1,
		}, rain.Values)
	})

	t.Run("24 hours is not enough for a 24h lag", func(t *testing.T) {
		table, _, err := Normalize(sheetHistory(24), cfg)
		require.NoError(t, err)

		_, err = Extract(table, cfg)
		require.ErrorIs(t, err, ErrInsufficientData)
		assert.True(t, IsInsufficientData(err))
	})
}

func TestExtractEmpty(t *testing.T) {
	_, err := Extract(NewTable(), testConfig(t))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestExtractFeatureMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.FeatureSets = append(cfg.FeatureSets, FeatureSet{Name: "pressure", Features: []string{"pressure", FeatHourOfDay}})

	table, _, err := Normalize(sheetHistory(25), cfg)
	require.NoError(t, err)

	_, err = Extract(table, cfg)
	require.ErrorIs(t, err, ErrFeatureMismatch)
	assert.False(t, IsInsufficientData(err))

	var mismatch *FeatureMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "pressure", mismatch.Set)
	assert.Equal(t, []string{"pressure"}, mismatch.Missing)
}

func TestExtractAllColumns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Completeness = CompletenessAllColumns

	t.Run("text weather descriptions count as present", func(t *testing.T) {
		table, stats, err := Normalize(sheetHistory(30), cfg)
		require.NoError(t, err)
		assert.Zero(t, stats.ValuesCoerced)

		ext, err := Extract(table, cfg)
		require.NoError(t, err)
		require.Len(t, ext.Vectors, 2)
		assert.Equal(t, 49.5, ext.Vectors[0].Values[ColTemperature])
		assert.True(t, ext.Vectors[0].Time.Equal(testStart.Add(29*time.Hour)))
	})

	t.Run("empty weather cells still block a row", func(t *testing.T) {
		raw := sheetHistory(26)
		raw.Rows[25][4] = ""
		table, _, err := Normalize(raw, cfg)
		require.NoError(t, err)

		ext, err := Extract(table, cfg)
		require.NoError(t, err)
		assert.Equal(t, 44.5, ext.Vectors[0].Values[ColTemperature], "falls back to row 24")
	})

	t.Run("numeric columns only", func(t *testing.T) {
		raw := sheetHistory(26)
		raw.Header = raw.Header[:4]
		table, _, err := Normalize(raw, cfg)
		require.NoError(t, err)

		ext, err := Extract(table, cfg)
		require.NoError(t, err)
		require.Len(t, ext.Vectors, 2)
		assert.Equal(t, 45.5, ext.Vectors[0].Values[ColTemperature])
		assert.True(t, ext.Vectors[0].Time.Equal(ext.Vectors[1].Time), "one shared row")
	})
}

func TestExtractPerSetPicksLatestRowPerSet(t *testing.T) {
	cfg := testConfig(t)
	table, _, err := Normalize(sheetHistory(25), cfg)
	require.NoError(t, err)
	// The newest hour has no temperature reading.
	table = table.AppendRow(testStart.Add(25*time.Hour), map[string]null.Float{
		ColRainfall: null.FloatFrom(4),
		ColHumidity: null.FloatFrom(95),
	})

	ext, err := Extract(table, cfg)
	require.NoError(t, err)
	require.Len(t, ext.Vectors, 2)

	temp, rain := ext.Vectors[0], ext.Vectors[1]
	assert.Equal(t, 44.5, temp.Values[ColTemperature])
	assert.Equal(t, 4.0, rain.Values[ColRainfall])
	assert.Equal(t, 43.5, rain.Values[LagName(ColTemperature, 2)])
	assert.Equal(t, time.Hour, rain.Time.Sub(temp.Time))
}

func TestProject(t *testing.T) {
	row := Row{
		Time: testStart,
		Values: map[string]null.Float{
			ColRainfall:   null.FloatFrom(1.5),
			FeatHourOfDay: null.FloatFrom(8),
			ColHumidity:   null.Float{},
			"extra":       null.FloatFrom(9),
		},
	}

	_, err := Project(row, RainfallFeatures)
	var mismatch *FeatureMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{ColHumidity, LagName(ColTemperature, 2), FeatDayOfWeek}, mismatch.Missing)
	assert.Contains(t, err.Error(), `feature set "rainfall"`)

	vec, err := Project(row, FeatureSet{Name: "small", Features: []string{FeatHourOfDay, ColRainfall}})
	require.NoError(t, err)
	assert.Equal(t, []string{FeatHourOfDay, ColRainfall}, vec.Features)
	assert.Equal(t, map[string]float64{FeatHourOfDay: 8, ColRainfall: 1.5}, vec.Values)
}

func TestBackfillTemperature(t *testing.T) {
	frame := NewTable(ColTemperature, ColRainfall).
		AppendRow(testStart, map[string]null.Float{ColTemperature: null.FloatFrom(27)}).
		AppendRow(testStart.Add(time.Hour), map[string]null.Float{ColRainfall: null.FloatFrom(2)})

	row := backfillTemperature(frame.Row(1), frame, 1)
	assert.Equal(t, 27.0, row.Values[ColTemperature].Float64)

	empty := NewTable(ColRainfall).AppendRow(testStart, map[string]null.Float{ColRainfall: null.FloatFrom(2)})
	row = backfillTemperature(empty.Row(0), empty, 0)
	_, ok := row.Values[ColTemperature]
	assert.False(t, ok)
}

func TestEngineerIdempotentInput(t *testing.T) {
	cfg := testConfig(t)
	table, _, err := Normalize(sheetHistory(25), cfg)
	require.NoError(t, err)

	a := Engineer(table, cfg)
	b := Engineer(Reconcile(table, cfg), cfg)
	require.Equal(t, a.Len(), b.Len())
	assert.Equal(t, a.Names(), b.Names())
	for i := 0; i < a.Len(); i++ {
		assert.Equal(t, a.Row(i).Values, b.Row(i).Values)
	}
}

func TestEngineerLimitsSpan(t *testing.T) {
	cfg := testConfig(t)

	t.Run("stray old row", func(t *testing.T) {
		raw := sheetHistory(24)
		raw.Rows = append([][]string{{"04/03/1990 00.00.00", "20,0", "70", "0", "Cerah"}}, raw.Rows...)
		table, _, err := Normalize(raw, cfg)
		require.NoError(t, err)
		require.Equal(t, 25, table.Len())

		frame := Engineer(table, cfg)
		assert.Equal(t, 24, frame.Len())
		assert.True(t, testStart.Equal(frame.Time(0)))
	})

	t.Run("configured window", func(t *testing.T) {
		cfg := cfg
		cfg.MaxHistory = 10 * time.Hour
		table, _, err := Normalize(sheetHistory(30), cfg)
		require.NoError(t, err)

		frame := Engineer(table, cfg)
		require.Equal(t, 10, frame.Len())
		assert.True(t, testStart.Add(20*time.Hour).Equal(frame.Time(0)))
		assert.True(t, testStart.Add(29*time.Hour).Equal(frame.Time(9)))

		_, err = Extract(table, cfg)
		assert.ErrorIs(t, err, ErrInsufficientData, "a 24h lag cannot fit in 10 hours")
	})
}

func TestEngineerSpanBeyondDurationRange(t *testing.T) {
	// Far enough apart that a time.Duration between them would overflow.
	first := time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC)
	table := NewTable(ColTemperature).
		AppendRow(first, map[string]null.Float{ColTemperature: null.FloatFrom(1)}).
		AppendRow(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), map[string]null.Float{ColTemperature: null.FloatFrom(2)})

	frame := Engineer(table, PipelineConfig{Location: time.UTC, MaxHistory: 48 * time.Hour})
	require.Equal(t, 1, frame.Len(), "only the last row is within the window")
	assert.Equal(t, 2.0, frame.Value(0, ColTemperature).Float64)
}
