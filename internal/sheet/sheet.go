// Package sheet reads and writes the question table: an Excel workbook, or a
// CSV or TSV file, with a header row. The file extension selects the format.
package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/logging"
)

const (
	backupBase   = "result_backup"
	outputSuffix = "_gen_answers"
)

// Format is a table file format.
type Format int

const (
	FormatCSV Format = iota
	FormatTSV
	FormatXLSX
)

// FormatOf returns the format selected by the extension of path. Unknown
// extensions are read and written as CSV.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".tsv":
		return FormatTSV
	default:
		return FormatCSV
	}
}

// Ext returns the canonical file extension of f.
func (f Format) Ext() string {
	switch f {
	case FormatXLSX:
		return ".xlsx"
	case FormatTSV:
		return ".tsv"
	default:
		return ".csv"
	}
}

// Table is a header row plus data rows. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of the column named name.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, h := range t.Header {
		if h == name {
			return i, nil
		}
	}
	err := fmt.Errorf("column %q not found, available columns: %s: %w",
		name, quoteAll(t.Header), errors.ErrColumnNotFound)
	for _, h := range t.Header {
		if strings.TrimSpace(h) == strings.TrimSpace(name) {
			return -1, fmt.Errorf("%w (column %q differs only in surrounding whitespace)", err, h)
		}
	}
	return -1, err
}

// Column returns the cells of the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// SetColumn writes values into the named column, appending the column if it
// does not exist.
func (t *Table) SetColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q: %d values for %d rows: %w", name, len(values), len(t.Rows), errors.ErrLengthMismatch)
	}
	idx, err := t.ColumnIndex(name)
	if err != nil {
		t.Header = append(t.Header, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], "")
		}
		idx = len(t.Header) - 1
	}
	for i, v := range values {
		t.Rows[i][idx] = v
	}
	return nil
}

// Read loads a table from path in the format its extension selects. Short
// rows are padded and long rows keep their extra cells under generated
// headers.
func Read(path string) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch FormatOf(path) {
	case FormatXLSX:
		records, err = readXLSX(path)
	default:
		records, err = readDelimited(path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewValidationError("table has no header row").WithField(path)
	}
	return newTable(records), nil
}

func newTable(records [][]string) *Table {
	t := &Table{Header: records[0], Rows: records[1:]}
	width := len(t.Header)
	for _, row := range t.Rows {
		width = max(width, len(row))
	}
	for i := len(t.Header); i < width; i++ {
		t.Header = append(t.Header, fmt.Sprintf("column_%d", i+1))
	}
	for i, row := range t.Rows {
		for len(row) < width {
			row = append(row, "")
		}
		t.Rows[i] = row
	}
	return t
}

// Write stores t at path in the format its extension selects, creating
// parent directories.
func Write(path string, t *Table) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	switch FormatOf(path) {
	case FormatXLSX:
		return writeXLSX(path, t)
	default:
		return writeDelimited(path, t)
	}
}

// Save writes t to path. If that fails, it writes t to backup instead and
// returns that path along with the original error.
func Save(path, backup string, t *Table, logger *logging.Logger) (string, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	err := Write(path, t)
	if err == nil {
		logger.Info("results saved", "path", path, "rows", t.Len())
		return path, nil
	}

	logger.Error("failed to save results, writing backup", "path", path, "error", err.Error())
	if berr := Write(backup, t); berr != nil {
		return "", errors.Join(fmt.Errorf("save %s: %w", path, err), fmt.Errorf("save backup: %w", berr))
	}
	logger.Warn("results saved to backup", "path", backup)
	return backup, fmt.Errorf("save %s: %w", path, err)
}

// BackupPath names the fallback file for a run over input: result_backup
// in the working directory, in the same format as input.
func BackupPath(input string) string {
	return backupBase + FormatOf(input).Ext()
}

// DefaultOutputPath derives the output path from the input path:
// dir/name.ext becomes dir/name_gen_answers.ext.
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(filepath.Base(input), ext)
	return filepath.Join(filepath.Dir(input), base+outputSuffix+ext)
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(q, ", ") + "]"
}
