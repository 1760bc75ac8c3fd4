// Package csvfile reads observation history from a local CSV export.
package csvfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
)

const bom = "\uFEFF"

// Source implements domain.HistorySource over a CSV file. The first record is
// the header. Files exported with a decimal-comma locale usually separate
// fields with ';', which is detected from the header line.
type Source struct {
	path string
}

// NewSource returns a Source reading path on every fetch.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// FetchHistory reads the whole file. A missing file means no history yet and
// yields an empty table.
func (s *Source) FetchHistory(ctx context.Context) (domain.RawTable, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawTable{}, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.RawTable{}, nil
	}
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("open history csv: %w", err)
	}
	defer f.Close()

	table, err := Read(f)
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("read history csv %s: %w", s.path, err)
	}
	return table, nil
}

// Read parses CSV history from r.
func Read(r io.Reader) (domain.RawTable, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return domain.RawTable{}, err
	}
	if len(bytes.TrimSpace(first)) == 0 {
		return domain.RawTable{}, nil
	}

	cr := csv.NewReader(br)
	cr.Comma = detectDelimiter(first)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return domain.RawTable{}, err
	}
	if len(records) == 0 {
		return domain.RawTable{}, nil
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], bom)
	}

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return domain.RawTable{Header: header, Rows: rows}, nil
}

func detectDelimiter(head []byte) rune {
	line, _, _ := bytes.Cut(head, []byte("\n"))
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
