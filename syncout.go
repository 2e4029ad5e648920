package raptor

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// SyncOut is a thread-safe line writer for search results.
//
// Write calls from parallel workers are serialized; each call appends one
// complete line, so lines never interleave. The header is written at most
// once and strictly before any result line: WriteHeader must be called from
// single-threaded code before the parallel region starts.
type SyncOut struct {
	mu            sync.Mutex
	file          *os.File
	w             *bufio.Writer
	headerWritten bool
}

// NewSyncOut creates the output file, truncating an existing one.
func NewSyncOut(path string) (*SyncOut, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &SyncOut{file: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

// WriteHeader writes the result header exactly once, parameterized by the
// index's hash function count. Subsequent calls are no-ops. Not safe for
// concurrent use; call before dispatching parallel workers.
func (s *SyncOut) WriteHeader(meta Metadata, hashFunctionCount int) error {
	if s.headerWritten {
		return nil
	}
	s.headerWritten = true
	_, err := fmt.Fprintf(s.w, "## shape=%s window=%d hash_functions=%d\n#QUERY_NAME\tUSER_BINS\n",
		meta.Shape.String(), meta.WindowSize, hashFunctionCount)
	return err
}

// Write appends one result line.
func (s *SyncOut) Write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.WriteString(line)
	return err
}

// Close flushes and closes the output file.
func (s *SyncOut) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
