// Command genmock writes the mock sensor-history fixture used by the test
// suites. The export mimics the collection sheet: Indonesian headers, ';'
// separators, decimal commas, day-first dotted timestamps in UTC, and a few
// deliberate defects the normalizer must recover from.
//
// Usage:
//
//	go run ./cmd/genmock --hours 48 --out data/mock/sensor_history.csv
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"
)

var baseDate = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

// diurnal is the temperature offset in tenths of a degree per UTC hour.
var diurnal = [24]int{-8, -3, 2, 8, 14, 19, 23, 25, 24, 20, 14, 8, 3, 0, -2, -4, -5, -6, -7, -8, -9, -9, -9, -8}

// rain is the hourly rainfall in tenths of a millimetre per UTC hour.
var rain = [24]int{0, 0, 0, 0, 0, 0, 0, 0, 2, 5, 14, 6, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

// Defects injected after the given row index.
const (
	badTemperatureRow = 10
	duplicateRow      = 20
	blankRowsAfter    = 30
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	hours := flag.Int("hours", 48, "number of hourly readings to generate")
	out := flag.StringP("out", "o", "data/mock/sensor_history.csv", "output path, - for stdout")
	flag.Parse()

	if *hours <= 0 {
		return fmt.Errorf("--hours must be positive, got %d", *hours)
	}

	if *out == "-" {
		return writeHistory(os.Stdout, *hours)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := writeHistory(f, *hours); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %d hours to %s\n", *hours, *out)
	return nil
}

func writeHistory(w io.Writer, hours int) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Waktu;Suhu;Kelembapan;CurahHujan;DeskripsiCuaca")
	for i := 0; i < hours; i++ {
		r := reading(i)
		fmt.Fprintln(bw, r.line())
		switch i {
		case duplicateRow:
			r.desc = "Koreksi"
			fmt.Fprintln(bw, r.line())
		case blankRowsAfter:
			fmt.Fprintln(bw, ";;;;")
			fmt.Fprintln(bw, ";27,0;80;0;Cerah")
		}
	}
	return bw.Flush()
}

type row struct {
	ts       time.Time
	temp     string
	humidity int
	rain     string
	desc     string
}

func reading(i int) row {
	h := i % 24
	d := diurnal[h]
	r := row{
		ts:       baseDate.Add(time.Duration(i) * time.Hour),
		temp:     tenths(250 + d + i/24),
		humidity: 80 - (d+9)/3,
		rain:     tenths(rain[h]),
		desc:     describe(d, rain[h]),
	}
	if i == badTemperatureRow {
		r.temp = "n/a"
	}
	return r
}

func (r row) line() string {
	return fmt.Sprintf("%s;%s;%d;%s;%s", r.ts.Format("02/01/2006 15.04.05"), r.temp, r.humidity, r.rain, r.desc)
}

// tenths formats a non-negative tenths value with a decimal comma.
func tenths(v int) string {
	return fmt.Sprintf("%d,%d", v/10, v%10)
}

func describe(offset, rainTenths int) string {
	switch {
	case rainTenths >= 10:
		return "Hujan Sedang"
	case rainTenths > 0:
		return "Hujan Ringan"
	case offset > 10:
		return "Cerah"
	default:
		return "Berawan"
	}
}
