package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Sink persists finalized records. Write must make the record durable (or
// observable) before returning; the pipeline relies on that for its drain
// guarantee.
type Sink interface {
	Write(*Record) error
	Close() error
}

// JSONLSink appends one JSON object per line to a file, syncing after every
// record. Durability is preferred over throughput: this is a forensic log,
// not a hot path.
type JSONLSink struct {
	f *os.File
}

// NewJSONLSink opens (creating if needed) the append-only audit log at path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &JSONLSink{f: f}, nil
}

func (s *JSONLSink) Write(r *Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode audit record %s: %w", r.ID, err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("append audit record %s: %w", r.ID, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	return s.f.Close()
}

// MultiSink fans a record out to several sinks. All sinks see every record;
// the first error is returned and treated as fatal by the pipeline.
type MultiSink []Sink

func (m MultiSink) Write(r *Record) error {
	var first error
	for _, s := range m {
		if err := s.Write(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SinkFunc adapts a function to the Sink interface, for sinks with no close
// semantics (the live feed, test capture).
type SinkFunc func(*Record) error

func (f SinkFunc) Write(r *Record) error { return f(r) }
func (f SinkFunc) Close() error          { return nil }
