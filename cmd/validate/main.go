// Command validate checks a sensor-history export before it is used for
// feature extraction: parse defects, hourly coverage, per-column gaps, and
// whether every configured feature set can be built from it.
//
// Usage:
//
//	go run ./cmd/validate --history data/mock/sensor_history.csv [--features features.yaml] [--max-gap 3]
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/climate-feature-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/climate-feature-etl/internal/config"
	"github.com/couchcryptid/climate-feature-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	historyPath := flag.String("history", "", "path to the history CSV export")
	featuresFile := flag.String("features", "", "optional feature configuration YAML")
	maxGap := flag.Int("max-gap", 3, "longest tolerated run of hours without a reading")
	flag.Parse()

	if *historyPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(os.Stdout, *historyPath, *featuresFile, *maxGap))
}

func run(w io.Writer, historyPath, featuresFile string, maxGap int) int {
	cfg, err := config.LoadFeatures(featuresFile)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}

	f, err := os.Open(historyPath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}
	raw, err := csvfile.Read(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(w, "FATAL: read %s: %v\n", historyPath, err)
		return 1
	}

	fmt.Fprintln(w, "=== Sensor History Validation ===")
	fmt.Fprintln(w)

	table, stats, err := domain.Normalize(raw, cfg)
	if err != nil {
		fmt.Fprintf(w, "FATAL: normalize: %v\n", err)
		return 1
	}

	grid := domain.Resample(table)
	phases := []*phase{
		validateParse(stats),
		validateCoverage(table, grid, maxGap),
		validateColumns(grid, cfg),
		validateFeatures(table, cfg),
	}
	return report(w, phases, stats, grid)
}

func validateParse(stats domain.ParseStats) *phase {
	p := &phase{name: "Phase 1: Parse defects"}
	if stats.RowsDropped > 0 {
		p.errorf("%d of %d rows have an empty or unparseable timestamp", stats.RowsDropped, stats.RowsIn)
	}
	if stats.DuplicateTimestamps > 0 {
		p.errorf("%d rows repeat an earlier timestamp; the last one wins", stats.DuplicateTimestamps)
	}
	if stats.ValuesCoerced > 0 {
		p.notef("%d non-numeric cells read as missing", stats.ValuesCoerced)
	}
	return p
}

func validateCoverage(table, grid domain.Table, maxGap int) *phase {
	p := &phase{name: "Phase 2: Hourly coverage"}
	if table.Empty() {
		p.errorf("no readings")
		return p
	}

	observed := make(map[time.Time]bool, table.Len())
	for _, ts := range table.Times() {
		observed[ts.UTC()] = true
	}

	missing, run := 0, 0
	var runStart time.Time
	flush := func() {
		if run > maxGap {
			p.errorf("%d consecutive hours without a reading from %s", run, runStart.Format(time.RFC3339))
		}
		run = 0
	}
	for _, ts := range grid.Times() {
		if observed[ts.UTC()] {
			flush()
			continue
		}
		if run == 0 {
			runStart = ts
		}
		run++
		missing++
	}
	flush()

	if missing > 0 {
		p.notef("%d of %d grid hours are forward-filled", missing, grid.Len())
	}
	return p
}

func validateColumns(grid domain.Table, cfg domain.PipelineConfig) *phase {
	p := &phase{name: "Phase 3: Column gaps"}
	for _, col := range sourceColumns(cfg) {
		vals, ok := grid.Column(col)
		if !ok {
			p.errorf("column %s is absent", col)
			continue
		}
		gaps := 0
		for _, v := range vals {
			if !v.Valid {
				gaps++
			}
		}
		if gaps > 0 {
			p.notef("%s: %d of %d hours missing after forward fill", col, gaps, len(vals))
		}
	}
	return p
}

func validateFeatures(table domain.Table, cfg domain.PipelineConfig) *phase {
	p := &phase{name: "Phase 4: Feature extraction"}
	ext, err := domain.Extract(table, cfg)
	var mismatch *domain.FeatureMismatchError
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		p.errorf("insufficient data: %d grid hours, the longest lag needs %d", domain.Resample(table).Len(), maxLag(cfg)+1)
		return p
	case errors.As(err, &mismatch):
		p.errorf("%v", err)
		return p
	case err != nil:
		p.errorf("%v", err)
		return p
	}
	for _, v := range ext.Vectors {
		p.notef("%s: latest complete row at %s", v.Set, v.Time.Format(time.RFC3339))
	}
	return p
}

func report(w io.Writer, phases []*phase, stats domain.ParseStats, grid domain.Table) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Rows: %d read, %d dropped, %d duplicates; grid: %d hours\n",
		stats.RowsIn, stats.RowsDropped, stats.DuplicateTimestamps, grid.Len())

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.notes) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for _, e := range p.errors {
			fmt.Fprintf(w, "  ERROR %s\n", e)
		}
		for _, n := range p.notes {
			fmt.Fprintf(w, "  note  %s\n", n)
		}
	}

	fmt.Fprintln(w)
	if !allPassed {
		fmt.Fprintln(w, "RESULT: FAIL")
		return 1
	}
	fmt.Fprintln(w, "RESULT: PASS")
	return 0
}

// sourceColumns lists the raw columns that lags are derived from.
func sourceColumns(cfg domain.PipelineConfig) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range cfg.Lags {
		if !seen[l.Column] {
			seen[l.Column] = true
			out = append(out, l.Column)
		}
	}
	return out
}

func maxLag(cfg domain.PipelineConfig) int {
	m := 0
	for _, l := range cfg.Lags {
		for _, h := range l.Hours {
			m = max(m, h)
		}
	}
	return m
}
