package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ObservationRequest is the caller-supplied current reading that is appended
// to history before features are built. Timestamp wins over Hour; with
// neither, the current hour in the pipeline zone is used.
type ObservationRequest struct {
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	Hour         *int       `json:"hour,omitempty" validate:"omitempty,min=0,max=23"`
	Temperature  float64    `json:"temperature" validate:"gte=-40,lte=60"`
	Humidity     float64    `json:"humidity" validate:"gte=0,lte=100"`
	Rainfall     float64    `json:"rainfall" validate:"gte=0"`
	WeatherCode  int        `json:"weather_code"`
	HorizonHours int        `json:"horizon_hours,omitempty" validate:"omitempty,oneof=1 3 6"`
}

// Observation is one resolved sensor reading.
type Observation struct {
	Time        time.Time
	Temperature float64
	Humidity    float64
	Rainfall    float64
	WeatherCode int
}

// CheckTime rejects a reading stamped later than MaxClockSkew past the clock,
// or earlier than the history window allows.
func (o Observation) CheckTime(cfg PipelineConfig) error {
	now := clock.Now()
	earliest, latest := now.Add(-cfg.maxHistory()), now.Add(MaxClockSkew)
	if o.Time.Before(earliest) || o.Time.After(latest) {
		return &ObservationTimeError{At: o.Time, Earliest: earliest, Latest: latest}
	}
	return nil
}

// ParseObservationRequest decodes a source-topic message.
func ParseObservationRequest(raw RawEvent) (ObservationRequest, error) {
	var req ObservationRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return ObservationRequest{}, fmt.Errorf("parse observation request: %w", err)
	}
	return req, nil
}

// Resolve fixes the request's timestamp in loc, on the hour: readings are
// placed on the hourly grid, so an explicit timestamp is truncated to the hour
// it falls in. A request without one takes today's date from the package
// clock, at the requested hour (or the current one).
func (r ObservationRequest) Resolve(loc *time.Location) Observation {
	var ts time.Time
	switch {
	case r.Timestamp != nil:
		ts = floorHour(r.Timestamp.In(loc))
	default:
		ts = hourToday(loc, r.Hour)
	}
	return Observation{
		Time:        ts,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Rainfall:    r.Rainfall,
		WeatherCode: r.WeatherCode,
	}
}

// Values returns the observation as table cells.
func (o Observation) Values() map[string]null.Float {
	return map[string]null.Float{
		ColTemperature: null.FloatFrom(o.Temperature),
		ColHumidity:    null.FloatFrom(o.Humidity),
		ColRainfall:    null.FloatFrom(o.Rainfall),
		ColWeatherCode: null.FloatFrom(float64(o.WeatherCode)),
	}
}

// ResultStatus tells consumers whether a result carries vectors.
type ResultStatus string

const (
	StatusOK               ResultStatus = "ok"
	StatusInsufficientData ResultStatus = "insufficient_data"
)

// Result sources.
const (
	SourceRequest  = "request"
	SourceSnapshot = "snapshot"
)

// FeatureResult is what the service publishes for one pipeline invocation.
type FeatureResult struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Status       ResultStatus    `json:"status"`
	HorizonHours int             `json:"horizon_hours,omitempty"`
	ObservedAt   time.Time       `json:"observed_at"`
	HistoryHours int             `json:"history_hours"`
	Vectors      []FeatureVector `json:"vectors,omitempty"`
	ProcessedAt  time.Time       `json:"processed_at"`
}

// Vector returns the vector built for the named feature set.
func (r FeatureResult) Vector(set string) (FeatureVector, bool) {
	for _, v := range r.Vectors {
		if v.Set == set {
			return v, true
		}
	}
	return FeatureVector{}, false
}

var resultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/couchcryptid/climate-feature-etl/results"))

// ResultID derives a deterministic identifier so that replaying the same
// request yields the same message key downstream.
func ResultID(source string, observedAt time.Time, horizonHours int) string {
	name := fmt.Sprintf("%s|%s|%d", source, observedAt.UTC().Format(time.RFC3339), horizonHours)
	return uuid.NewSHA1(resultNamespace, []byte(name)).String()
}
