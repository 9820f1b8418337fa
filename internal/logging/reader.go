package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed line of the run log.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Zero-valued fields match everything and set
// fields are combined with AND.
type Filter struct {
	// Level is the minimum level (DEBUG < INFO < WARN < ERROR).
	Level     string
	Since     time.Time
	Until     time.Time
	RunID     string
	Component string
	// Pattern is matched against the message and every attribute value.
	Pattern *regexp.Regexp
}

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses {logDir}/ragbatch.log together with its rotated
// backups, plain or gzipped, and returns the entries in time order.
// Lines that are not JSON objects are skipped.
func ReadEntries(logDir string) ([]Entry, error) {
	live := filepath.Join(logDir, LogFileName)
	if _, err := os.Stat(live); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in %s: %w", logDir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	backups, err := filepath.Glob(live + ".*")
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, path := range append(backups, live) {
		parsed, err := readFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, parsed...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if entry, ok := ParseEntry(scanner.Text()); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return entries, nil
}

// ParseEntry decodes one JSON log line. Fields other than time, level, msg,
// run_id and component land in Attrs.
func ParseEntry(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}

	entry := Entry{Attrs: make(map[string]any)}
	for k, v := range raw {
		s, _ := v.(string)
		switch k {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				entry.Time = t
			}
		case "level":
			entry.Level = s
		case "msg":
			entry.Message = s
		case "run_id":
			entry.RunID = s
		case "component":
			entry.Component = s
		default:
			entry.Attrs[k] = v
		}
	}
	return entry, true
}

// LatestRunID returns the run ID of the last entry that carries one.
func LatestRunID(entries []Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].RunID != "" {
			return entries[i].RunID
		}
	}
	return ""
}

// Match reports whether e passes every criterion of f.
func (f Filter) Match(e Entry) bool {
	if f.Level != "" {
		want, ok := levelRank[strings.ToUpper(f.Level)]
		have, known := levelRank[e.Level]
		if ok && known && have < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Time.After(f.Until) {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(searchText(e)) {
		return false
	}
	return true
}

func searchText(e Entry) string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, k := range sortedKeys(e.Attrs) {
		fmt.Fprintf(&sb, " %v", e.Attrs[k])
	}
	return sb.String()
}

// FilterEntries returns the entries that match f.
func FilterEntries(entries []Entry, f Filter) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Export formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// WriteEntries writes entries to w as text, a JSON array or CSV.
func WriteEntries(w io.Writer, entries []Entry, format string) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, FormatEntry(e, false)); err != nil {
				return err
			}
		}
		return nil
	case FormatJSON:
		if entries == nil {
			entries = []Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatCSV:
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: text, json, csv)", format)
	}
}

func writeCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "level", "msg", "run_id", "component", "attrs"}); err != nil {
		return err
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{e.Time.Format(time.RFC3339Nano), e.Level, e.Message, e.RunID, e.Component, attrs}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ANSI colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

func levelColor(level string) string {
	switch level {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorBlue
	case LevelWarn:
		return colorYellow
	case LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// FormatEntry renders e on one line:
//
//	[15:04:05.000] [WARN] message component=batch batch=3 error=...
//
// Attributes are printed in key order.
func FormatEntry(e Entry, color bool) string {
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	var sb strings.Builder
	sb.WriteString(paint(colorGray, "["+e.Time.Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(paint(levelColor(e.Level), "["+e.Level+"]"))
	sb.WriteString(" ")
	sb.WriteString(e.Message)
	if e.Component != "" {
		sb.WriteString(" " + paint(colorCyan, "component=") + e.Component)
	}
	for _, k := range sortedKeys(e.Attrs) {
		fmt.Fprintf(&sb, " %s%v", paint(colorCyan, k+"="), e.Attrs[k])
	}
	return sb.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
