// Package journal persists the replayable trail of a kernel run: an
// append-only JSONL log of outputs plus full-state snapshots keyed by
// state hash. The kernel itself performs no I/O; everything durable
// lives here.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/macterra/Axio-sub002/pkg/kernel"
)

// FormatVersion is written into every journal header. Readers gate on it
// before replaying.
const FormatVersion = "1.0.0"

// maxLineBytes bounds a single journal line on read.
const maxLineBytes = 1 << 20

var (
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("journal: writer closed")

	// ErrHeaderMissing is returned when a journal does not start with a
	// header line.
	ErrHeaderMissing = errors.New("journal: header missing")
)

// Header is the first line of a journal. GenesisHash is the kernel state
// hash before the first batch of the run.
type Header struct {
	RunID         string    `json:"run_id"`
	FormatVersion string    `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
	GenesisHash   string    `json:"genesis_hash"`
}

// Record is one journal line after the header: a single kernel output with
// its run framing. Epoch is the kernel epoch after the output's batch
// committed, recorded for operators; replay verification trusts only the
// output's state hash chain.
type Record struct {
	Sequence uint64        `json:"sequence"`
	BatchSeq uint64        `json:"batch_seq"`
	Epoch    uint64        `json:"epoch"`
	Output   kernel.Output `json:"output"`
}

// Writer appends records to a JSONL journal. One writer owns one run;
// sequences start at 1 and never repeat.
type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	header Header
	seq    uint64
	closed bool
}

// NewWriter stamps missing header fields and writes the header line. The
// caller keeps ownership of out and closes it after Close.
func NewWriter(out io.Writer, header Header) (*Writer, error) {
	if header.FormatVersion == "" {
		header.FormatVersion = FormatVersion
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	w := &Writer{out: bufio.NewWriter(out), header: header}
	if err := w.writeLine(header); err != nil {
		return nil, fmt.Errorf("journal: write header: %w", err)
	}
	return w, nil
}

// Header returns the header as written, including stamped fields.
func (w *Writer) Header() Header {
	return w.header
}

// Sequence returns the sequence of the last appended record, 0 before the
// first append.
func (w *Writer) Sequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Append journals one output and returns the record as written.
func (w *Writer) Append(batchSeq, epoch uint64, out kernel.Output) (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Record{}, ErrClosed
	}
	rec := Record{Sequence: w.seq + 1, BatchSeq: batchSeq, Epoch: epoch, Output: out}
	if err := w.writeLine(rec); err != nil {
		return Record{}, fmt.Errorf("journal: append: %w", err)
	}
	w.seq = rec.Sequence
	return rec, nil
}

// Flush pushes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Flush()
}

// Close flushes and marks the writer closed. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.out.Flush()
}

func (w *Writer) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.out.Write(data); err != nil {
		return err
	}
	return w.out.WriteByte('\n')
}

// Reader walks a journal line by line. It only parses; chain and sequence
// verification belong to the replay verifier.
type Reader struct {
	scanner *bufio.Scanner
	header  Header
}

// NewReader consumes and validates the header line.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("journal: read header: %w", err)
		}
		return nil, ErrHeaderMissing
	}
	var h Header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
		return nil, fmt.Errorf("journal: decode header: %w", err)
	}
	if h.FormatVersion == "" {
		return nil, ErrHeaderMissing
	}
	return &Reader{scanner: sc, header: h}, nil
}

// Header returns the journal header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the journal.
func (r *Reader) Next() (Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Record{}, fmt.Errorf("journal: read record: %w", err)
		}
		return Record{}, io.EOF
	}
	var rec Record
	if err := json.Unmarshal(r.scanner.Bytes(), &rec); err != nil {
		return Record{}, fmt.Errorf("journal: decode record: %w", err)
	}
	return rec, nil
}
