package modulelog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionPrefix formats a session start time the way exported file names
// expect it, e.g. "20240131_154502".
func SessionPrefix(t time.Time) string { return t.Format("20060102_150405") }

// CSVSink writes one CSV file per table into Dir.
//
// File names are "<Prefix>_command_<module>.csv" and
// "<Prefix>_servo_responses_<module>.csv".
type CSVSink struct {
	Dir    string
	Prefix string

	// Written lists the files produced by the last successful WriteTables.
	Written []string
}

// NewCSVSink creates a sink writing into dir with the given file prefix.
func NewCSVSink(dir, prefix string) *CSVSink {
	return &CSVSink{Dir: dir, Prefix: prefix}
}

// FileName returns the file name used for t.
func (c *CSVSink) FileName(t Table) string {
	kind := "command"
	if t.Kind == KindServo {
		kind = "servo_responses"
	}
	if c.Prefix == "" {
		return fmt.Sprintf("%s_%d.csv", kind, t.ModuleID)
	}
	return fmt.Sprintf("%s_%s_%d.csv", c.Prefix, kind, t.ModuleID)
}

// WriteTables implements Sink.
func (c *CSVSink) WriteTables(ctx context.Context, tables []Table) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	written := make([]string, 0, len(tables))
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(c.Dir, c.FileName(t))
		if err := writeCSV(path, t); err != nil {
			return err
		}
		written = append(written, path)
	}
	c.Written = written
	return nil
}

func writeCSV(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Columns()); err != nil {
		f.Close()
		return fmt.Errorf("write header %s: %w", path, err)
	}
	if err := w.WriteAll(t.Records()); err != nil {
		f.Close()
		return fmt.Errorf("write rows %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
