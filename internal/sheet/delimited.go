package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readDelimited(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter(path)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse table %s: %w", path, err)
	}
	return records, nil
}

func writeDelimited(path string, t *Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter(path)
	if err := w.Write(t.Header); err != nil {
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func delimiter(path string) rune {
	if FormatOf(path) == FormatTSV {
		return '\t'
	}
	return ','
}
