// Package audit maintains the append-only JSONL trail of mutating tool
// decisions. Entries form a sha256 hash chain so after-the-fact edits are
// detectable.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/homelab-ops/warden/pkg/models"
)

var (
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("audit log closed")

	// ErrChainBroken indicates a hash chain mismatch during verification.
	ErrChainBroken = errors.New("audit chain broken")
)

type request struct {
	entry models.AuditEntry
	done  chan error
}

// Log is an append-only audit trail backed by a JSONL file. A single writer
// goroutine owns the file; Append blocks until the entry is written, so a
// caller holding a returned nil error knows the record precedes whatever it
// does next.
type Log struct {
	path      string
	file      *os.File
	requests  chan request
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Writer goroutine state after start; set once during Open.
	seq      uint64
	prevHash string
}

// Open creates or continues an audit log at path. An existing file has its
// last entry read back so the hash chain continues across restarts.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	seq, prevHash, err := readChainState(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	l := &Log{
		path:     path,
		file:     file,
		requests: make(chan request, 64),
		done:     make(chan struct{}),
		seq:      seq,
		prevHash: prevHash,
	}

	l.wg.Add(1)
	go l.writeLoop()

	slog.Info("Audit log opened", "path", path, "last_seq", seq)
	return l, nil
}

// Append writes one entry and returns once it is on disk. The sequence
// number, previous hash, and hash fields are assigned here; caller-set
// values are overwritten.
func (l *Log) Append(ctx context.Context, entry models.AuditEntry) error {
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}

	req := request{entry: entry, done: make(chan error, 1)}

	select {
	case l.requests <- req:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		// The writer will still persist the entry; the caller just stops
		// waiting for it.
		return ctx.Err()
	}
}

// Close drains pending appends and closes the file.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()

		// Answer any append that raced past the drain.
		for {
			select {
			case req := <-l.requests:
				req.done <- ErrClosed
				continue
			default:
			}
			break
		}

		if err := l.file.Sync(); err != nil {
			l.closeErr = err
		}
		if err := l.file.Close(); err != nil && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

func (l *Log) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case req := <-l.requests:
			req.done <- l.write(req.entry)
		case <-l.done:
			l.flush()
			return
		}
	}
}

func (l *Log) flush() {
	for {
		select {
		case req := <-l.requests:
			req.done <- l.write(req.entry)
		default:
			return
		}
	}
}

// write assigns chain fields and appends one line. Chain state advances only
// on a successful write so a failed entry can be retried without a gap.
func (l *Log) write(entry models.AuditEntry) error {
	entry.Seq = l.seq + 1
	entry.PrevHash = l.prevHash
	entry.Hash = ""

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	entry.Hash = chainHash(l.prevHash, payload)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	l.seq = entry.Seq
	l.prevHash = entry.Hash
	return nil
}

// Verify replays the file at path and checks every link of the hash chain.
// Returns the number of valid entries; a non-nil error names the first bad
// line.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var (
		count    int
		seq      uint64
		prevHash string
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var entry models.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return count, fmt.Errorf("%w: line %d: %v", ErrChainBroken, line, err)
		}
		if entry.Seq != seq+1 {
			return count, fmt.Errorf("%w: line %d: seq %d, want %d", ErrChainBroken, line, entry.Seq, seq+1)
		}
		if entry.PrevHash != prevHash {
			return count, fmt.Errorf("%w: line %d: prev_hash mismatch", ErrChainBroken, line)
		}

		want := entry.Hash
		entry.Hash = ""
		payload, err := json.Marshal(entry)
		if err != nil {
			return count, fmt.Errorf("%w: line %d: %v", ErrChainBroken, line, err)
		}
		if got := chainHash(prevHash, payload); got != want {
			return count, fmt.Errorf("%w: line %d: hash mismatch", ErrChainBroken, line)
		}

		seq = entry.Seq
		prevHash = want
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// readChainState returns the sequence number and hash of the last entry in
// an existing log, or zero values when the file is absent or empty.
func readChainState(path string) (uint64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("failed to read audit log: %w", err)
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return 0, "", fmt.Errorf("failed to scan audit log: %w", err)
	}
	if len(last) == 0 {
		return 0, "", nil
	}

	var entry models.AuditEntry
	if err := json.Unmarshal(last, &entry); err != nil {
		return 0, "", fmt.Errorf("corrupt final audit entry: %w", err)
	}
	return entry.Seq, entry.Hash, nil
}

// chainHash links an entry to its predecessor. First 16 hex chars of
// sha256(prevHash || payload).
func chainHash(prevHash string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
