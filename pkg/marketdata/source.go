// Package marketdata provides replayable record sources for the
// backtest driver: newline-delimited JSON capture files and live
// websocket captures.
package marketdata

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/schema"
)

// ErrNotPrepared is returned when Next is called before Prepare.
var ErrNotPrepared = errors.New("source not prepared")

// Source yields decoded market records in feed order. Next returns
// io.EOF when the source is exhausted.
type Source interface {
	Prepare() error
	Next() (schema.Record, error)
}

// FileSource replays a newline-delimited JSON capture file, one
// record per line. Blank lines are skipped.
type FileSource struct {
	path    string
	logger  log.Logger
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// NewFileSource creates a source over the capture file at path.
func NewFileSource(path string, logger log.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Prepare opens the capture file.
func (s *FileSource) Prepare() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	s.file = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	s.logger.Info("capture opened", "path", s.path)
	return nil
}

// Next returns the next record, or io.EOF at end of file.
func (s *FileSource) Next() (schema.Record, error) {
	if s.scanner == nil {
		return schema.Record{}, ErrNotPrepared
	}
	for s.scanner.Scan() {
		s.line++
		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec schema.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return schema.Record{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return rec, nil
	}
	if err := s.scanner.Err(); err != nil {
		return schema.Record{}, err
	}
	return schema.Record{}, io.EOF
}

// Close releases the underlying file.
func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// SliceSource serves records from memory. Used by tests and by the
// websocket capture path.
type SliceSource struct {
	records []schema.Record
	next    int
	ready   bool
}

// NewSliceSource wraps records in a Source.
func NewSliceSource(records []schema.Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Prepare() error {
	s.ready = true
	return nil
}

func (s *SliceSource) Next() (schema.Record, error) {
	if !s.ready {
		return schema.Record{}, ErrNotPrepared
	}
	if s.next >= len(s.records) {
		return schema.Record{}, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}
