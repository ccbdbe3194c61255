package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadCSV parses comma-separated content into a Table. The first non-empty
// record is the header. Rows narrower than the header are padded with empty
// cells and wider rows are truncated, mirroring how null-tolerant tabular
// tools treat ragged exports. Fully empty rows are skipped.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var table *Table
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tabular: read csv: %w", err)
		}
		if isEmptyRecord(record) {
			continue
		}
		if table == nil {
			table = New(cleanHeader(record))
			continue
		}
		table.Rows = append(table.Rows, fitRow(record, len(table.Columns)))
	}
	if table == nil {
		return nil, fmt.Errorf("tabular: empty input, no header row")
	}
	return table, nil
}

func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: open %s: %w", path, err)
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("tabular: %s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// WriteCSV emits the table with a trailing newline, header first.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("tabular: write header: %w", err)
	}
	for _, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("tabular: write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("tabular: flush csv: %w", err)
	}
	return nil
}

func WriteCSVFile(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tabular: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tabular: create %s: %w", path, err)
	}
	if err := WriteCSV(f, t); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("tabular: close %s: %w", path, err)
	}
	return nil
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// cleanHeader trims each header cell and strips byte-order marks, which some
// vendor exports smuggle into (or even inside) the first column name.
func cleanHeader(record []string) []string {
	out := make([]string, len(record))
	for i, c := range record {
		c = strings.ReplaceAll(c, "\uFEFF", "")
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func fitRow(record []string, width int) []string {
	row := make([]string, width)
	for i := 0; i < width && i < len(record); i++ {
		row[i] = record[i]
	}
	return row
}
