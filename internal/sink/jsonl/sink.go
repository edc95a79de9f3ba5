// Package jsonl appends records to a destination file, one JSON object per
// line.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bionicspirit/market-crawler/internal/crawler"
)

// syncWriter is the slice of *os.File the sink needs. Tests substitute a
// failing implementation.
type syncWriter interface {
	io.WriteCloser
	Sync() error
}

// Sink implements crawler.Sink over a local file. A single mutex serializes
// all writes so no two records' bytes interleave, and every write is fsynced
// before returning: a crash after N writes leaves exactly N parseable lines.
type Sink struct {
	mu      sync.Mutex
	file    syncWriter
	written int64
}

// New opens (or creates) the destination for appending. Earlier content is
// never rewritten.
func New(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open destination %s: %w", path, err)
	}
	return &Sink{file: f}, nil
}

func newWithFile(f syncWriter) *Sink {
	return &Sink{file: f}
}

// Write appends one JSON-encoded record and its line terminator in a single
// write call, then flushes durably. Any failure here is fatal to the crawl:
// the sink is the only point where records become durable.
func (s *Sink) Write(ctx context.Context, rec crawler.AppRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sink write canceled: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.UID, err)
	}
	line := append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write record %s: %w", rec.UID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync destination: %w", err)
	}
	s.written++
	return nil
}

// Written returns the number of records durably written so far.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close releases the destination handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
