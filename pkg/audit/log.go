// Package audit provides the crash-safe, append-only event log that
// every pipeline component writes through, plus the atomic
// session-summary record used as a fast-path read cache.
//
// Append is synchronous and durable: the event line is fsynced before
// the call returns, so a caller's in-memory state change is only made
// after its audit record survives a crash. On restart, a session's full
// state (phase statuses, task outcomes, finding counts, cost total) is
// rebuilt solely by replaying the event sequence in order.
package audit

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/jsonutil"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("audit: log closed")

// Log is an append-only, fsync-on-append event log. One JSON object per
// line, sequence numbers strictly increasing per session.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	seq    uint64
	closed bool
}

// Open opens (or creates) the event log at path. If the file already
// holds events from a previous run, the sequence counter resumes after
// the highest committed sequence number.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create log dir: %w", err)
		}
	}

	lastSeq, err := lastCommittedSeq(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	return &Log{f: f, path: path, seq: lastSeq}, nil
}

// lastCommittedSeq scans an existing log for the highest sequence
// number. A trailing line that fails to parse is tolerated: it is the
// single uncommitted event a crash may leave behind.
func lastCommittedSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("audit: scan log: %w", err)
	}
	defer f.Close()

	var last uint64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := jsonutil.Unmarshal(line, &e); err != nil {
			continue // torn tail from a crash mid-write
		}
		if e.Seq > last {
			last = e.Seq
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("audit: scan log: %w", err)
	}
	return last, nil
}

// Append assigns the next sequence number and timestamp, writes the
// event as one JSON line, and fsyncs before returning. It returns the
// event as committed.
func (l *Log) Append(e Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Event{}, ErrClosed
	}

	l.seq++
	e.Seq = l.seq
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	data, err := jsonutil.Marshal(e)
	if err != nil {
		l.seq--
		return Event{}, fmt.Errorf("audit: marshal event: %w", err)
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return Event{}, fmt.Errorf("audit: write event: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return Event{}, fmt.Errorf("audit: sync event: %w", err)
	}
	return e, nil
}

// Seq returns the last committed sequence number.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// Replay reads all committed events from the log at path, in order.
// A torn trailing line is skipped, matching the crash contract: at most
// the single in-flight uncommitted event is lost.
func Replay(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log for replay: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := jsonutil.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("audit: replay: %w", err)
	}
	return events, nil
}
