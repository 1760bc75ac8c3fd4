// Package sheets reads and appends observation history in a Google Sheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/couchcryptid/climate-feature-etl/internal/config"
	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
)

// appendHeader is the column layout the collector writes and Append follows.
var appendHeader = []string{"Waktu", "Suhu", "Kelembapan", "CurahHujan", "DeskripsiCuaca"}

// appendTimeLayout is day-first and naive; naive history timestamps are UTC.
const appendTimeLayout = "02/01/2006 15:04:05"

// Client implements domain.HistorySource and domain.ObservationRecorder on a
// single sheet range. Calls go through a circuit breaker and are not retried.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
	readRange     string
	breaker       *gobreaker.CircuitBreaker
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewClient authenticates with the service-account key in
// SHEETS_CREDENTIALS_FILE and returns a client for the configured range.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Client, error) {
	key, err := os.ReadFile(cfg.SheetsCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}
	jwt, err := google.JWTConfigFromJSON(key, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}
	httpClient := jwt.Client(ctx)
	httpClient.Timeout = cfg.SheetsTimeout

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newClient(svc, cfg.SheetsSpreadsheetID, cfg.SheetsRange, logger, metrics), nil
}

func newClient(svc *sheets.Service, spreadsheetID, readRange string, logger *slog.Logger, metrics *observability.Metrics) *Client {
	c := &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		readRange:     readRange,
		logger:        logger,
		metrics:       metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "google-sheets",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// FetchHistory reads the configured range. The first row is the header; a
// sheet with fewer than two rows is empty history.
func (c *Client) FetchHistory(ctx context.Context) (domain.RawTable, error) {
	var resp *sheets.ValueRange
	err := c.call("fetch", func() error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.readRange).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("sheets fetch %s: %w", c.readRange, err)
	}
	return toRawTable(resp.Values), nil
}

// AppendObservation writes obs as a new row below the existing data, letting
// Sheets parse the cells as if typed by a user.
func (c *Client) AppendObservation(ctx context.Context, obs domain.Observation) error {
	row := &sheets.ValueRange{Values: [][]interface{}{observationRow(obs)}}
	err := c.call("append", func() error {
		_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.readRange, row).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheets append: %w", err)
	}
	c.logger.Info("observation appended to sheet", "observed_at", obs.Time)
	return nil
}

func (c *Client) call(op string, fn func() error) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.HistoryAPIDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.HistoryRequests.WithLabelValues(op, outcome).Inc()
	return err
}

func toRawTable(values [][]interface{}) domain.RawTable {
	if len(values) < 2 {
		return domain.RawTable{}
	}
	table := domain.RawTable{Header: cells(values[0])}
	table.Rows = make([][]string, 0, len(values)-1)
	for _, v := range values[1:] {
		table.Rows = append(table.Rows, cells(v))
	}
	return table
}

func cells(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

func observationRow(obs domain.Observation) []interface{} {
	return []interface{}{
		obs.Time.UTC().Format(appendTimeLayout),
		strconv.FormatFloat(obs.Temperature, 'f', -1, 64),
		strconv.FormatFloat(obs.Humidity, 'f', -1, 64),
		strconv.FormatFloat(obs.Rainfall, 'f', -1, 64),
		strconv.Itoa(obs.WeatherCode),
	}
}
