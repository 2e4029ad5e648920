package raptor

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Record is one sequence record of a query or bin file.
// Records are immutable once read.
type Record struct {
	ID  string
	Seq []byte
}

// SeqReader streams FASTA records from a (possibly gzip-compressed) file.
// Records can be consumed in chunks to bound memory.
type SeqReader struct {
	file   *os.File
	gz     *gzip.Reader
	br     *bufio.Reader
	header []byte // last seen '>' line, next record's ID
	done   bool
}

// OpenFasta opens a FASTA file for reading. Files ending in .gz are
// decompressed transparently.
func OpenFasta(path string) (*SeqReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sequence file: %w", err)
	}
	r := &SeqReader{file: f}
	if fileIsCompressed(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open sequence file: %w", err)
		}
		r.gz = gz
		r.br = bufio.NewReaderSize(gz, 1<<20)
	} else {
		r.br = bufio.NewReaderSize(f, 1<<20)
	}
	return r, nil
}

// ReadChunk reads up to max records. A shorter (possibly empty) result
// means the file is exhausted.
func (r *SeqReader) ReadChunk(max int) ([]Record, error) {
	records := make([]Record, 0, min(max, 1024))
	for len(records) < max && !r.done {
		rec, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// ForEach invokes fn for every remaining record.
func (r *SeqReader) ForEach(fn func(Record) error) error {
	for !r.done {
		rec, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// next reads one record. ok is false at end of file.
func (r *SeqReader) next() (rec Record, ok bool, err error) {
	// Scan for the record header if we do not carry one over.
	for r.header == nil {
		line, err := r.readLine()
		if err == io.EOF {
			r.done = true
			return Record{}, false, nil
		}
		if err != nil {
			return Record{}, false, err
		}
		if len(line) > 0 && line[0] == '>' {
			r.header = line
		}
	}

	// ID is the header token up to the first whitespace.
	id := r.header[1:]
	if i := bytes.IndexAny(id, " \t"); i >= 0 {
		id = id[:i]
	}
	rec.ID = string(id)
	r.header = nil

	// Sequence lines until the next header or EOF.
	for {
		line, err := r.readLine()
		if err == io.EOF {
			r.done = true
			break
		}
		if err != nil {
			return Record{}, false, err
		}
		if len(line) > 0 && line[0] == '>' {
			r.header = line
			break
		}
		rec.Seq = append(rec.Seq, line...)
	}
	return rec, true, nil
}

// readLine returns one line without the trailing newline.
func (r *SeqReader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, err
	}
	line = bytes.TrimRight(line, "\r\n")
	return line, nil
}

// Close releases the underlying file.
func (r *SeqReader) Close() error {
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			r.file.Close()
			return err
		}
	}
	return r.file.Close()
}
