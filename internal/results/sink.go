// Package results provides the JSON-lines result log shared by concurrent
// per-host tasks. The sink is opened once per run and passed to whatever
// needs it; there is no process-wide handle.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tag layout for result file names; colons are not filename-safe.
const fileTimeTag = "2006-01-02_150405"

// Sink appends one JSON object per line to the result log. Writes are
// serialized so records from concurrent tasks never interleave mid-line.
type Sink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder

	now func() time.Time
}

// Open creates a result log named after the run's start time under dataDir,
// creating the directory if needed.
func Open(dataDir, prefix string, start time.Time) (*Sink, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, fmt.Sprintf("%s_results_%s.log", prefix, start.UTC().Format(fileTimeTag)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log %s: %w", path, err)
	}
	return &Sink{f: f, enc: json.NewEncoder(f), now: time.Now}, nil
}

// Path returns the file path of the result log.
func (s *Sink) Path() string {
	return s.f.Name()
}

// Write appends one record: {<key>: <value>, "instanceId": ..., "dateTime": ...}
// with the timestamp in UTC.
func (s *Sink) Write(key string, value any, instanceID string) error {
	rec := map[string]any{
		key:          value,
		"instanceId": instanceID,
		"dateTime":   s.now().UTC().Format(time.RFC3339Nano),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write result record: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
