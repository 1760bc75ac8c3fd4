// Command featurize builds model-ready feature vectors from a history CSV and
// an optional current reading, and prints the result as JSON.
//
// Usage:
//
//	go run ./cmd/featurize --history data/mock/sensor_history.csv \
//	    --temperature 27.5 --humidity 82 --rainfall 0 --hour 14
//
// Without --temperature the latest history row is used. Exit status is 2 when
// history is too short for the configured lags.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/climate-feature-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/climate-feature-etl/internal/config"
	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
	"github.com/couchcryptid/climate-feature-etl/internal/pipeline"
)

const (
	exitOK           = 0
	exitError        = 1
	exitInsufficient = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("featurize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	historyPath := fs.String("history", "data/mock/sensor_history.csv", "history CSV export")
	featuresFile := fs.String("features", "", "optional feature configuration YAML")
	temperature := fs.Float64("temperature", 0, "current temperature in °C")
	humidity := fs.Float64("humidity", 0, "current relative humidity in %")
	rainfall := fs.Float64("rainfall", 0, "current rainfall in mm")
	weatherCode := fs.Int("weather-code", 0, "current WMO weather code")
	hour := fs.Int("hour", -1, "hour of today for the current reading (0-23)")
	timestamp := fs.String("timestamp", "", "timestamp of the current reading; wins over --hour")
	horizon := fs.Int("horizon", 0, "forecast horizon in hours (1, 3 or 6)")
	verbose := fs.BoolP("verbose", "v", false, "log pipeline details to stderr")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := config.LoadFeatures(*featuresFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	transformer := pipeline.NewTransformer(csvfile.NewSource(*historyPath), nil, cfg, logger, observability.NewMetricsForTesting())

	var result domain.FeatureResult
	if fs.Changed("temperature") {
		req := domain.ObservationRequest{
			Temperature:  *temperature,
			Humidity:     *humidity,
			Rainfall:     *rainfall,
			WeatherCode:  *weatherCode,
			HorizonHours: *horizon,
		}
		if *hour >= 0 {
			req.Hour = hour
		}
		if *timestamp != "" {
			ts, ok := domain.ParseTimestamp(*timestamp)
			if !ok {
				fmt.Fprintf(stderr, "invalid --timestamp %q\n", *timestamp)
				return exitError
			}
			req.Timestamp = &ts
		}
		result, err = transformer.Featurize(ctx, req)
	} else {
		result, err = transformer.Snapshot(ctx)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if result.Status == domain.StatusInsufficientData {
		return exitInsufficient
	}
	return exitOK
}
