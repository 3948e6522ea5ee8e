// Package csvfile implements a consumer that writes one CSV line per
// collected event. A header line naming the columns is written before the
// first line and again only when an event carries a column the current
// header lacks. Columns missing from an event, such as those of a source
// that failed during the run, are written as empty cells. In append mode
// the last header already in the file is reused.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/event"
)

// DefaultTimestampFormat is the layout of the first column.
const DefaultTimestampFormat = "01/02/06 15:04:05"

// Stdout is the path value that selects standard output.
const Stdout = "-"

const timestampColumn = "timestamp"

// Config configures the writer.
type Config struct {
	// Path of the output file. Empty or "-" selects stdout.
	Path string
	// Append keeps existing file content; otherwise the file is truncated.
	Append bool
	// TimestampFormat is a time layout; empty selects DefaultTimestampFormat.
	TimestampFormat string
	// NoHeader suppresses header lines.
	NoHeader bool
}

// Writer is a consumer.Handler writing CSV lines.
type Writer struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	out     *csv.Writer
	closer  io.Closer
	columns []string
	index   map[string]int
	lines   int
}

// New opens the output described by cfg.
func New(cfg Config, logger *zap.Logger) (*Writer, error) {
	if cfg.Path == "" || cfg.Path == Stdout {
		return newWriter(cfg, os.Stdout, nil, logger), nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	var header []string
	if cfg.Append {
		h, err := lastHeader(cfg.Path)
		if err != nil {
			return nil, err
		}
		header = h
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	w := newWriter(cfg, f, f, logger)
	if header != nil {
		w.setColumns(header)
	}
	return w, nil
}

// lastHeader returns the columns of the last header line in path, or nil
// when the file does not exist or has no header.
func lastHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	var header []string
	for {
		rec, err := r.Read()
		if err != nil {
			// io.EOF, or a torn last line left by an earlier crash
			return header, nil
		}
		if len(rec) > 0 && rec[0] == timestampColumn {
			header = append([]string(nil), rec[1:]...)
		}
	}
}

// NewWithWriter writes to w. Close does not close w.
func NewWithWriter(cfg Config, w io.Writer, logger *zap.Logger) *Writer {
	return newWriter(cfg, w, nil, logger)
}

func newWriter(cfg Config, w io.Writer, closer io.Closer, logger *zap.Logger) *Writer {
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = DefaultTimestampFormat
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{cfg: cfg, logger: logger, out: csv.NewWriter(w), closer: closer}
}

// Name implements consumer.Handler.
func (w *Writer) Name() string {
	if w.cfg.Path == "" {
		return "csv:" + Stdout
	}
	return "csv:" + w.cfg.Path
}

// Handle writes ev as one line: the collection timestamp followed by one
// value per property, in source then property order.
func (w *Writer) Handle(_ context.Context, ev *event.MultiSourceReading) error {
	columns, values := flatten(ev)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out == nil {
		return fmt.Errorf("write to closed consumer %s", w.Name())
	}
	if w.index == nil || !w.covers(columns) {
		if !w.cfg.NoHeader {
			if err := w.out.Write(append([]string{timestampColumn}, columns...)); err != nil {
				return fmt.Errorf("write header: %w", err)
			}
		}
		if w.index != nil {
			w.logger.Info("New columns appeared, header rewritten", zap.Int("columns", len(columns)))
		}
		w.setColumns(columns)
	}

	line := make([]string, 1+len(w.columns))
	line[0] = ev.Time().Format(w.cfg.TimestampFormat)
	for i, c := range columns {
		line[1+w.index[c]] = values[i]
	}
	if err := w.out.Write(line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	w.out.Flush()
	if err := w.out.Error(); err != nil {
		return fmt.Errorf("flush line: %w", err)
	}
	w.lines++
	return nil
}

func (w *Writer) setColumns(columns []string) {
	w.columns = columns
	w.index = make(map[string]int, len(columns))
	for i, c := range columns {
		w.index[c] = i
	}
}

// covers reports whether every column is already in the header.
func (w *Writer) covers(columns []string) bool {
	for _, c := range columns {
		if _, ok := w.index[c]; !ok {
			return false
		}
	}
	return true
}

// Lines returns the number of data lines written.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Close flushes and closes the output file. Stdout is left open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return nil
	}
	w.out.Flush()
	err := w.out.Error()
	w.out = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// flatten returns the "literal/name" column names and formatted values of ev.
func flatten(ev *event.MultiSourceReading) (columns, values []string) {
	for _, a := range ev.SourceAddresses() {
		for _, p := range ev.PropertiesFor(a) {
			columns = append(columns, a.Literal()+"/"+p.Name)
			values = append(values, p.FormatValue())
		}
	}
	return columns, values
}
