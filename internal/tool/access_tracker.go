package tool

import (
	"os"
	"sync"
	"time"

	"github.com/forgesmith/codeforge/internal/enginerr"
)

// AccessTracker enforces the read-before-write invariant: a tool may not
// overwrite a file it (or another tool in the same session) hasn't first
// read, and a write is rejected if the file's on-disk mtime has moved past
// what was observed at read time by more than the grace window, since that
// means something outside the session changed it.
type AccessTracker struct {
	mu    sync.Mutex
	reads map[accessKey]readRecord
}

type accessKey struct {
	sessionID string
	path      string
}

type readRecord struct {
	mtime      time.Time
	accessedAt time.Time
}

// gracePeriod is the window during which an external mtime change is
// tolerated without tripping the drift check, since a formatter
// or LSP run triggered by our own write can touch mtime a moment later.
const gracePeriod = 2 * time.Second

// NewAccessTracker returns an empty tracker.
func NewAccessTracker() *AccessTracker {
	return &AccessTracker{reads: make(map[accessKey]readRecord)}
}

// RecordRead notes that sessionID has read path at its current on-disk
// mtime. A file that doesn't exist yet (about to be created) is recorded
// with a zero mtime, which CheckBeforeWrite treats as "no drift possible".
func (a *AccessTracker) RecordRead(sessionID, path string) {
	mtime := time.Time{}
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads[accessKey{sessionID, path}] = readRecord{mtime: mtime, accessedAt: time.Now()}
}

// CheckBeforeWrite enforces read-before-write for an existing file. A file
// that does not yet exist is always writable (this is a create, not an
// overwrite). A file that exists but was never read by this session is
// rejected. A file whose mtime has advanced past the recorded read by more
// than gracePeriod is rejected as externally modified.
func (a *AccessTracker) CheckBeforeWrite(sessionID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // new file
	}

	a.mu.Lock()
	rec, ok := a.reads[accessKey{sessionID, path}]
	a.mu.Unlock()

	if !ok {
		return enginerr.Validation("%s must be read before it can be edited", path)
	}
	if rec.mtime.IsZero() {
		return nil
	}
	if info.ModTime().Sub(rec.mtime) > gracePeriod {
		return enginerr.Validation("%s was modified on disk since it was last read", path)
	}
	return nil
}

// Forget drops every recorded read for a session, called on session end.
func (a *AccessTracker) Forget(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.reads {
		if k.sessionID == sessionID {
			delete(a.reads, k)
		}
	}
}
