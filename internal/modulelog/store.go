// Package modulelog accumulates every decoded sample per module for the
// lifetime of a session and exports them as tables.
package modulelog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/banshee-data/servotrace/internal/decode"
)

// SampleKind names the table a sample belongs to.
type SampleKind string

const (
	KindCommand SampleKind = "command"
	KindServo   SampleKind = "servo"
)

// Column sets for each table kind.
var (
	CommandColumns = []string{"command_id", "module_id", "timestamp", "value"}
	ServoColumns   = []string{"command_id", "module_id", "timestamp", "current", "velocity", "position", "error"}
)

// Store is an unbounded, append-only log of samples keyed by module id.
type Store struct {
	mu       sync.Mutex
	commands map[uint8][]decode.CommandSample
	servos   map[uint8][]decode.ServoSample
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		commands: make(map[uint8][]decode.CommandSample),
		servos:   make(map[uint8][]decode.ServoSample),
	}
}

// RecordCommand appends a command sample to its module's log.
func (s *Store) RecordCommand(c decode.CommandSample) {
	s.mu.Lock()
	s.commands[c.ModuleID] = append(s.commands[c.ModuleID], c)
	s.mu.Unlock()
}

// RecordServo appends a servo sample to its module's log.
func (s *Store) RecordServo(v decode.ServoSample) {
	s.mu.Lock()
	s.servos[v.ModuleID] = append(s.servos[v.ModuleID], v)
	s.mu.Unlock()
}

// Counts returns the number of command and servo samples held.
func (s *Store) Counts() (commands, servos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commands {
		commands += len(c)
	}
	for _, v := range s.servos {
		servos += len(v)
	}
	return commands, servos
}

// Clear drops every logged sample.
func (s *Store) Clear() {
	s.mu.Lock()
	s.commands = make(map[uint8][]decode.CommandSample)
	s.servos = make(map[uint8][]decode.ServoSample)
	s.mu.Unlock()
}

// Table is one module's samples of one kind, in the order they were
// recorded. Exactly one of Commands and Servos is populated.
type Table struct {
	Kind     SampleKind
	ModuleID uint8
	Commands []decode.CommandSample
	Servos   []decode.ServoSample
}

// Columns returns the header for the table's kind.
func (t Table) Columns() []string {
	if t.Kind == KindServo {
		return ServoColumns
	}
	return CommandColumns
}

// Len returns the number of rows.
func (t Table) Len() int {
	if t.Kind == KindServo {
		return len(t.Servos)
	}
	return len(t.Commands)
}

// Records renders the rows as strings with command_id in hexadecimal.
func (t Table) Records() [][]string {
	out := make([][]string, 0, t.Len())
	if t.Kind == KindServo {
		for _, v := range t.Servos {
			out = append(out, []string{
				FormatCommandID(v.CommandID),
				strconv.Itoa(int(v.ModuleID)),
				formatTimestamp(v.Timestamp),
				strconv.FormatInt(int64(v.Current), 10),
				strconv.FormatInt(int64(v.Velocity), 10),
				strconv.FormatInt(int64(v.Position), 10),
				strconv.FormatUint(uint64(v.Error), 10),
			})
		}
		return out
	}
	for _, c := range t.Commands {
		out = append(out, []string{
			FormatCommandID(c.CommandID),
			strconv.Itoa(int(c.ModuleID)),
			formatTimestamp(c.Timestamp),
			strconv.FormatInt(int64(c.Value), 10),
		})
	}
	return out
}

// FormatCommandID renders a command id as "0x200".
func FormatCommandID(id uint32) string { return fmt.Sprintf("0x%X", id) }

func formatTimestamp(ts float64) string { return strconv.FormatFloat(ts, 'f', -1, 64) }

// Tables copies the log into tables: command tables first, then servo
// tables, each in ascending module order.
func (s *Store) Tables() []Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := make([]Table, 0, len(s.commands)+len(s.servos))
	for _, id := range sortedKeys(s.commands) {
		tables = append(tables, Table{
			Kind:     KindCommand,
			ModuleID: id,
			Commands: append([]decode.CommandSample(nil), s.commands[id]...),
		})
	}
	for _, id := range sortedKeys(s.servos) {
		tables = append(tables, Table{
			Kind:     KindServo,
			ModuleID: id,
			Servos:   append([]decode.ServoSample(nil), s.servos[id]...),
		})
	}
	return tables
}

func sortedKeys[V any](m map[uint8]V) []uint8 {
	keys := make([]uint8, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Sink receives exported tables, e.g. a CSV directory or a database.
type Sink interface {
	WriteTables(ctx context.Context, tables []Table) error
}

// ExportError reports a sink failure. The log is left intact so the export
// can be retried.
type ExportError struct {
	Tables int
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export of %d tables failed: %v", e.Tables, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Export hands a copy of the log to sink. The store lock is released before
// the sink runs.
func (s *Store) Export(ctx context.Context, sink Sink) error {
	tables := s.Tables()
	if err := sink.WriteTables(ctx, tables); err != nil {
		return &ExportError{Tables: len(tables), Err: err}
	}
	return nil
}
