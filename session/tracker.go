package session

import (
	"sort"
	"sync"
	"time"

	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/log"
)

// Outcome describes what one observation did to the tracker.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Activity
	Superseded
	// InFlightChange is a change under a session a worker already owns.
	InFlightChange
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Activity:
		return "activity"
	case Superseded:
		return "superseded"
	case InFlightChange:
		return "in-flight-change"
	}
	return "unknown"
}

// Tracker holds at most one pending session per connection key.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[capture.ConnKey]*Session
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[capture.ConnKey]*Session)}
}

func (t *Tracker) Get(key capture.ConnKey) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[key]
}

// GetOrCreate returns the pending session for key, creating a Watching
// session at epoch 1 when there is none.
func (t *Tracker) GetOrCreate(key capture.ConnKey) (*Session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[key]
	t.mu.RUnlock()
	if ok {
		return s, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		return s, false
	}
	s = newSession(key, 1)
	t.sessions[key] = s
	log.Tracef("Session %s created for %s", s.ID, key)
	return s, true
}

// MarkOverwritten fails the pending session for key as superseded and
// replaces it with an empty session at the next epoch.
func (t *Tracker) MarkOverwritten(key capture.ConnKey) *Session {
	return t.markOverwritten(key, nil)
}

func (t *Tracker) markOverwritten(key capture.ConnKey, expect *Session) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.sessions[key]
	if ok && expect != nil && cur != expect {
		// Someone else already replaced it.
		return cur
	}
	epoch := uint64(1)
	if ok {
		cur.Fail(ReasonSuperseded)
		epoch = cur.Epoch + 1
		log.Infof("Capture %s was reused for a new connection, epoch %d superseded", key, cur.Epoch)
	}
	s := newSession(key, epoch)
	if ok {
		s.stale = cur.leftovers()
	}
	t.sessions[key] = s
	return s
}

// Observe applies one watcher observation. A rewritten file supersedes the
// session that owned it; any other change counts as activity and sends a
// Ready session back to Watching. Changes under in-flight sessions are
// recorded but do not interrupt the worker.
func (t *Tracker) Observe(f capture.CaptureFile, now time.Time) (*Session, Outcome) {
	s, created := t.GetOrCreate(f.Key)

	s.mu.Lock()
	owned, known := s.files[f.Path]
	if !known {
		if s.state.InFlight() || s.state.Terminal() {
			s.mu.Unlock()
			return s, InFlightChange
		}
		at := f.Fingerprint.ModTime
		if prev, ok := s.stale[f.Path]; ok {
			if !f.Fingerprint.Changed(prev) {
				s.mu.Unlock()
				return s, Unchanged
			}
			delete(s.stale, f.Path)
			at = now
		}
		if at.After(now) || at.IsZero() {
			at = now
		}
		if s.firstSeenAt.IsZero() || f.FirstSeenAt.Before(s.firstSeenAt) {
			s.firstSeenAt = f.FirstSeenAt
		}
		if at.After(s.lastActivityAt) {
			s.lastActivityAt = at
		}
		s.files[f.Path] = &ownedFile{file: f}
		if s.state == Ready {
			s.lastActivityAt = now
			s.readyAt = time.Time{}
			s.setStateLocked(Watching, ReasonNone)
		}
		s.mu.Unlock()
		if created {
			return s, Created
		}
		return s, Activity
	}

	if f.Fingerprint.Supersedes(owned.file.Fingerprint) {
		s.mu.Unlock()
		next := t.markOverwritten(f.Key, s)
		next.mu.Lock()
		if _, ok := next.files[f.Path]; !ok {
			delete(next.stale, f.Path)
			next.firstSeenAt = now
			next.lastActivityAt = now
			f.FirstSeenAt = now
			next.files[f.Path] = &ownedFile{file: f}
		}
		next.mu.Unlock()
		return next, Superseded
	}

	if !f.Fingerprint.Changed(owned.file.Fingerprint) {
		s.mu.Unlock()
		return s, Unchanged
	}

	owned.file = f
	outcome := Activity
	switch s.state {
	case Watching:
		s.lastActivityAt = now
	case Ready:
		s.lastActivityAt = now
		s.readyAt = time.Time{}
		s.setStateLocked(Watching, ReasonNone)
	default:
		outcome = InFlightChange
	}
	s.mu.Unlock()
	return s, outcome
}

// Vanished fails every Watching or Ready session that lost one of its
// files and removes it. Sessions owned by a worker are left alone: their
// files disappear because the worker archives them.
func (t *Tracker) Vanished(present map[string]struct{}) []*Session {
	var gone []*Session
	for _, s := range t.Sessions() {
		s.mu.Lock()
		for path := range s.stale {
			if _, ok := present[path]; !ok {
				delete(s.stale, path)
			}
		}
		if s.state == Watching || s.state == Ready {
			for path := range s.files {
				if _, ok := present[path]; !ok {
					s.setStateLocked(Failed, ReasonDisappeared)
					gone = append(gone, s)
					break
				}
			}
		}
		s.mu.Unlock()
	}
	for _, s := range gone {
		t.Remove(s)
	}
	return gone
}

// leftovers returns the fingerprints of every file s owned or inherited.
func (s *Session) leftovers() map[string]capture.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]capture.Fingerprint, len(s.files)+len(s.stale))
	for path, fp := range s.stale {
		out[path] = fp
	}
	for path, of := range s.files {
		out[path] = of.file.Fingerprint
	}
	return out
}

// Remove drops s if it is still the pending session for its key.
func (t *Tracker) Remove(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[s.Key]; ok && cur == s {
		delete(t.sessions, s.Key)
	}
}

func (t *Tracker) Sessions() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Snapshot returns status views of all pending sessions, oldest first.
func (t *Tracker) Snapshot() []Info {
	sessions := t.Sessions()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}
