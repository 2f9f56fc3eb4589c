package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLogRecord bounds a single logged message.
const MaxLogRecord = 256 << 20

// LogWriter appends raw messages to a command log, each prefixed by its
// length as a big-endian uint32.
type LogWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
	n  int
}

// NewLogWriter returns a writer appending to w.
func NewLogWriter(w io.Writer) *LogWriter {
	return &LogWriter{w: bufio.NewWriter(w)}
}

// Write appends one message.
func (l *LogWriter) Write(msg []byte) error {
	if len(msg) > MaxLogRecord {
		return fmt.Errorf("log record of %d bytes exceeds limit", len(msg))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := l.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := l.w.Write(msg); err != nil {
		return err
	}
	l.n++
	return nil
}

// Flush writes buffered records through.
func (l *LogWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Flush()
}

// Records returns the number of messages written.
func (l *LogWriter) Records() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// LogReader reads messages written by LogWriter.
type LogReader struct {
	r *bufio.Reader
}

// NewLogReader returns a reader over r.
func NewLogReader(r io.Reader) *LogReader {
	return &LogReader{r: bufio.NewReader(r)}
}

// ErrTruncatedLog is returned when the log ends inside a record.
var ErrTruncatedLog = errors.New("truncated command log")

// Next returns the next message, or io.EOF after the last one.
func (l *LogReader) Next() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(l.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedLog
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxLogRecord {
		return nil, fmt.Errorf("log record of %d bytes exceeds limit", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(l.r, msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedLog
		}
		return nil, err
	}
	return msg, nil
}
