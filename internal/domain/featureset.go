package domain

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone database for minimal images
)

// Canonical column names.
const (
	ColTimestamp   = "timestamp"
	ColTemperature = "temperature"
	ColHumidity    = "humidity"
	ColRainfall    = "rainfall"
	ColWeatherCode = "weather_code"

	FeatHourOfDay = "hour_of_day"
	FeatDayOfWeek = "day_of_week"
)

// DefaultTimezone is the zone every timestamp is reconciled into (WITA, UTC+8).
const DefaultTimezone = "Asia/Makassar"

// DefaultMaxHistory is how far back from the latest reading history is used.
const DefaultMaxHistory = 30 * 24 * time.Hour

// MaxClockSkew is how far past the clock a reading may be stamped. Later
// history rows are dropped and later requests are rejected.
const MaxClockSkew = time.Hour

// Completeness selects how rows with missing cells are discarded before the
// latest row is picked.
type Completeness string

const (
	// CompletenessPerFeatureSet keeps, per feature set, the latest row that is
	// complete over that set's own features.
	CompletenessPerFeatureSet Completeness = "per_feature_set"
	// CompletenessAllColumns drops every row with any missing cell in any column.
	CompletenessAllColumns Completeness = "all_columns"
)

// FeatureSet is the fixed, ordered list of feature names one model expects.
type FeatureSet struct {
	Name     string   `yaml:"name" json:"name"`
	Features []string `yaml:"features" json:"features"`
}

// LagSpec derives "<column>_lag_<h>h" for each offset in Hours.
type LagSpec struct {
	Column string `yaml:"column"`
	Hours  []int  `yaml:"hours"`
}

// LagName returns the feature name for column lagged by hours.
func LagName(column string, hours int) string {
	return fmt.Sprintf("%s_lag_%dh", column, hours)
}

// TemperatureFeatures is the feature set of the temperature regression models.
var TemperatureFeatures = FeatureSet{
	Name: "temperature",
	Features: []string{
		ColTemperature,
		ColHumidity,
		FeatHourOfDay,
		LagName(ColTemperature, 1),
		LagName(ColTemperature, 24),
		LagName(ColHumidity, 1),
	},
}

// RainfallFeatures is the feature set of the rainfall intensity classifiers.
var RainfallFeatures = FeatureSet{
	Name: "rainfall",
	Features: []string{
		ColRainfall,
		FeatHourOfDay,
		ColHumidity,
		LagName(ColTemperature, 2),
		FeatDayOfWeek,
	},
}

// DefaultLags are the lag features the bundled models were trained with.
var DefaultLags = []LagSpec{
	{Column: ColTemperature, Hours: []int{1, 2, 24}},
	{Column: ColHumidity, Hours: []int{1}},
	{Column: ColRainfall, Hours: []int{24}},
}

// DefaultAliases maps known header variants onto canonical column names.
// Matching is exact and case-sensitive after trimming surrounding space.
var DefaultAliases = map[string]string{
	"timestamp": ColTimestamp,
	"time":      ColTimestamp,
	"Waktu":     ColTimestamp,

	"temperature":         ColTemperature,
	"Suhu":                ColTemperature,
	"Temp":                ColTemperature,
	"temperature_2m (°C)": ColTemperature,

	"humidity":                 ColHumidity,
	"Kelembapan":               ColHumidity,
	"RH":                       ColHumidity,
	"relative_humidity_2m (%)": ColHumidity,

	"rainfall":   ColRainfall,
	"CurahHujan": ColRainfall,
	"Rain":       ColRainfall,
	"rain (mm)":  ColRainfall,

	"weather_code":            ColWeatherCode,
	"DeskripsiCuaca":          ColWeatherCode,
	"weather_code (wmo code)": ColWeatherCode,
}

// PipelineConfig carries everything the normalizer and feature pipeline read.
// It is passed explicitly; nothing in this package consults global settings.
type PipelineConfig struct {
	Location     *time.Location
	Aliases      map[string]string
	Lags         []LagSpec
	FeatureSets  []FeatureSet
	Completeness Completeness
	// MaxHistory bounds the hourly grid, counted back from the latest row.
	// Zero means DefaultMaxHistory.
	MaxHistory time.Duration
}

// DefaultPipelineConfig returns the configuration matching the deployed models.
func DefaultPipelineConfig() (PipelineConfig, error) {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("load timezone %s: %w", DefaultTimezone, err)
	}
	aliases := make(map[string]string, len(DefaultAliases))
	for k, v := range DefaultAliases {
		aliases[k] = v
	}
	return PipelineConfig{
		Location:     loc,
		Aliases:      aliases,
		Lags:         DefaultLags,
		FeatureSets:  []FeatureSet{TemperatureFeatures, RainfallFeatures},
		Completeness: CompletenessPerFeatureSet,
		MaxHistory:   DefaultMaxHistory,
	}, nil
}

// canonicalName maps a header through the alias table. Canonical names map
// to themselves so already-normalized input passes through unchanged.
func (c PipelineConfig) canonicalName(header string) (string, bool) {
	if name, ok := c.Aliases[header]; ok {
		return name, true
	}
	switch header {
	case ColTimestamp, ColTemperature, ColHumidity, ColRainfall, ColWeatherCode:
		return header, true
	}
	return "", false
}

func (c PipelineConfig) maxHistory() time.Duration {
	if c.MaxHistory <= 0 {
		return DefaultMaxHistory
	}
	return c.MaxHistory
}

func (c PipelineConfig) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// FeatureVector is one model's input: the latest valid row projected onto its
// feature set.
type FeatureVector struct {
	Set      string             `json:"set"`
	Time     time.Time          `json:"time"`
	Features []string           `json:"features"`
	Values   map[string]float64 `json:"values"`
}

// Project restricts row to the features declared by set. Every declared name
// must be present and non-missing; nothing is ever defaulted.
func Project(row Row, set FeatureSet) (FeatureVector, error) {
	vec := FeatureVector{
		Set:      set.Name,
		Time:     row.Time,
		Features: append([]string(nil), set.Features...),
		Values:   make(map[string]float64, len(set.Features)),
	}
	var missing []string
	for _, name := range set.Features {
		v, ok := row.Values[name]
		if !ok || !v.Valid {
			missing = append(missing, name)
			continue
		}
		vec.Values[name] = v.Float64
	}
	if len(missing) > 0 {
		return FeatureVector{}, &FeatureMismatchError{Set: set.Name, Missing: missing}
	}
	return vec, nil
}
