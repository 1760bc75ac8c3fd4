package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Monday 2024-03-04 00:00 UTC, 08:00 WITA.
var testStart = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) PipelineConfig {
	t.Helper()
	cfg, err := DefaultPipelineConfig()
	require.NoError(t, err)
	return cfg
}

// sheetHistory builds n hourly rows the way the collection sheet exports them:
// Indonesian headers, day-first dotted timestamps in UTC, decimal commas and
// a free-text weather description.
// Row i has temperature 20.5+i, humidity 70+i and rainfall i%3.
func sheetHistory(n int) RawTable {
	raw := RawTable{Header: []string{"Waktu", "Suhu", "Kelembapan", "CurahHujan", "DeskripsiCuaca"}}
	for i := 0; i < n; i++ {
		ts := testStart.Add(time.Duration(i) * time.Hour)
		raw.Rows = append(raw.Rows, []string{
			ts.Format("02/01/2006 15.04.05"),
			strings.ReplaceAll(fmt.Sprintf("%.1f", 20.5+float64(i)), ".", ","),
			fmt.Sprintf("%d", 70+i),
			fmt.Sprintf("%d", i%3),
			"Cerah Berawan",
		})
	}
	return raw
}
