// Package eventlog implements the append-only telemetry store: one
// line-delimited JSON file per logical stream per calendar day. Records are
// never rewritten or deleted; there is no index and no compaction. Readers
// must ignore unknown fields.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stream names. Each stream has exactly one writer in practice, which is why
// appends take no lock beyond O_APPEND.
const (
	StreamInvocations = "agent_invocations"
	StreamOutcomes    = "agent_outcomes"
	StreamRoutingGaps = "routing_gaps"
)

// ErrUnavailable reports that the underlying log file could not be opened or
// appended. Read paths never return it; they degrade to empty results.
var ErrUnavailable = errors.New("event log unavailable")

// Store writes and reads day-partitioned JSONL streams under a single
// directory. A disabled store acknowledges appends without touching disk.
type Store struct {
	dir      string
	disabled bool
	now      func() time.Time
}

func NewStore(dir string, disabled bool) *Store {
	return &Store{dir: dir, disabled: disabled, now: time.Now}
}

// Disabled reports whether appends are being dropped.
func (s *Store) Disabled() bool { return s.disabled }

// PartitionPath returns the file backing a stream on the given day.
func (s *Store) PartitionPath(stream string, day time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.jsonl", stream, day.Format("20060102")))
}

// Append marshals v and appends it as one line to today's partition of the
// stream. When the store is disabled it reports success without persisting.
func (s *Store) Append(stream string, v any) error {
	if s.disabled {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", stream, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create dir %s: %v", ErrUnavailable, s.dir, err)
	}
	path := s.PartitionPath(stream, s.now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: append %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// ReadDay loads every record of a stream's partition for the given day, in
// append order. A missing partition is an empty result, not an error; lines
// that fail to parse as JSON are skipped.
func (s *Store) ReadDay(stream string, day time.Time) ([]json.RawMessage, error) {
	f, err := os.Open(s.PartitionPath(stream, day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open partition: %w", err)
	}
	defer f.Close()

	var out []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan partition: %w", err)
	}
	return out, nil
}

// ReadToday is ReadDay for the current partition.
func (s *Store) ReadToday(stream string) ([]json.RawMessage, error) {
	return s.ReadDay(stream, s.now())
}
