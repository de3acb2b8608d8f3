// Package sessionlog implements the Session Log Store: a
// per-session, append-only JSONL file that is the durable source of truth for
// a session's Conversation. It is grounded on the teacher's
// internal/storage.Storage (atomic temp-file+rename writes) and
// internal/storage.FileLock (flock-based single-writer lock), restructured
// from one-JSON-file-per-key snapshot storage into one append-only log file
// per session.
package sessionlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/forgesmith/codeforge/internal/storage"
)

// Store manages the append-only log file for one session.
type Store struct {
	root      string // <root>/projects
	sessionID string
	path      string

	mu       sync.Mutex // serializes Append calls from this process
	lock     *storage.FileLock
	file     *os.File
	degraded bool
}

// Open returns a Store for sessionID under a workspace, creating the
// directory if needed. The caller owns the handle and must Close it.
func Open(root, workspaceRoot, sessionID string) (*Store, error) {
	dir := filepath.Join(root, "projects", EscapeWorkspacePath(workspaceRoot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".log")
	return &Store{
		root:      root,
		sessionID: sessionID,
		path:      path,
		lock:      storage.NewFileLock(path),
	}, nil
}

// Degraded reports whether any Append has failed, putting the session
// into "log-degraded" state.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Append writes one Event as a single JSON line. A single os.File opened
// O_APPEND and a process-local mutex are enough for the single-writer
// guarantee C9 promises per session; the flock additionally guards against a
// second process touching the same file (e.g. a stale session resumed twice).
func (s *Store) Append(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = NewEventID()
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = SchemaVersion
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	line, err := json.Marshal(e)
	if err != nil {
		s.degraded = true
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	if err := s.lock.Lock(); err != nil {
		s.degraded = true
		return fmt.Errorf("acquire session log lock: %w", err)
	}
	defer s.lock.Unlock()

	f, err := s.openAppend()
	if err != nil {
		s.degraded = true
		return fmt.Errorf("open session log: %w", err)
	}

	// A single Write call keeps this atomic at the OS level as long as the
	// line stays under the pipe/atomic-write threshold; session log lines
	// are bounded by the per-tool-call capture limit (§5) so this holds in
	// practice.
	if _, err := f.Write(line); err != nil {
		s.degraded = true
		return fmt.Errorf("append session log: %w", err)
	}

	return nil
}

func (s *Store) openAppend() (*os.File, error) {
	if s.file != nil {
		return s.file, nil
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.file = f
	return f, nil
}

// Close releases the open file handle, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadAll returns every event in file order. Malformed lines (including a
// crash-truncated trailing line) are skipped, not fatal.
func (s *Store) ReadAll() ([]Event, error) {
	var events []Event
	err := s.Stream(func(e Event) error {
		events = append(events, e)
		return nil
	})
	return events, err
}

// Stream reads the log line by line, calling fn for each successfully
// parsed Event. A trailing partial line (no newline) is discarded silently;
// any other malformed line is skipped with no error returned to the caller,
// matching the store's tolerant read-back contract.
func (s *Store) Stream(fn func(Event) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) > 0 && bytes.IndexByte(data, '\n') < 0 {
			return len(data), nil, nil // trailing partial line: discard
		}
		return bufio.ScanLines(data, atEOF)
	})
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			// Malformed or (for the final line) a crash-truncated partial
			// write; tolerate it per the store's crash-recovery contract.
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// LastN returns up to the last n events in file order.
func (s *Store) LastN(n int) ([]Event, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// Filter returns the events matching predicate, in file order.
func (s *Store) Filter(predicate func(Event) bool) ([]Event, error) {
	var out []Event
	err := s.Stream(func(e Event) error {
		if predicate(e) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Stats describes the on-disk state of a session log.
type Stats struct {
	Exists bool
	Size   int64
	Lines  int
}

// Stats reports whether the log exists, its size, and its line count.
func (s *Store) Stats() (Stats, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("stat session log: %w", err)
	}
	lines := 0
	if err := s.Stream(func(Event) error { lines++; return nil }); err != nil {
		return Stats{}, err
	}
	return Stats{Exists: true, Size: info.Size(), Lines: lines}, nil
}

// Delete removes the log file, used by session cleanup policies.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session log: %w", err)
	}
	return nil
}

// Path returns the on-disk location of the log file.
func (s *Store) Path() string { return s.path }

// NewEventID returns a new ULID string, unique within a file by construction
// (millisecond timestamp + monotonic randomness).
func NewEventID() string {
	return ulid.Make().String()
}

// ListSessions returns the session IDs with a log file under a workspace root.
func ListSessions(root, workspaceRoot string) ([]string, error) {
	dir := filepath.Join(root, "projects", EscapeWorkspacePath(workspaceRoot))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".log" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".log")])
	}
	return ids, nil
}
