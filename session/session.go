package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/log"
	"github.com/google/uuid"
)

type State int

const (
	Watching State = iota
	Ready
	Classifying
	Forwarding
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Watching:
		return "watching"
	case Ready:
		return "ready"
	case Classifying:
		return "classifying"
	case Forwarding:
		return "forwarding"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s State) Terminal() bool { return s == Done || s == Failed }

// InFlight reports whether a worker owns the session.
func (s State) InFlight() bool { return s == Classifying || s == Forwarding }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := Watching; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDisappeared   Reason = "disappeared"
	ReasonSuperseded    Reason = "superseded"
	ReasonForwardFailed Reason = "forward-failed"
	ReasonIOError       Reason = "io-error"
	ReasonShutdown      Reason = "shutdown"
)

type ownedFile struct {
	file    capture.CaptureFile
	readyFP capture.Fingerprint
}

// Session is one epoch of one connection. All fields behind mu; the
// exported ID, Key and Epoch never change after creation.
type Session struct {
	ID    string
	Key   capture.ConnKey
	Epoch uint64

	mu             sync.Mutex
	state          State
	reason         Reason
	firstSeenAt    time.Time
	lastActivityAt time.Time
	readyAt        time.Time
	files          map[string]*ownedFile
	// stale holds fingerprints of files the previous epoch left behind.
	// Such a file joins this session only after it changes.
	stale map[string]capture.Fingerprint
}

func newSession(key capture.ConnKey, epoch uint64) *Session {
	return &Session{
		ID:    uuid.NewString(),
		Key:   key,
		Epoch: epoch,
		state: Watching,
		files: make(map[string]*ownedFile, 2),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

func (s *Session) FirstSeenAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstSeenAt
}

// Files returns the owned files ordered by name. Each file carries the
// fingerprint of its last observation.
func (s *Session) Files() []capture.CaptureFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filesLocked()
}

func (s *Session) filesLocked() []capture.CaptureFile {
	out := make([]capture.CaptureFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f.file)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReadyFingerprint is the fingerprint path had when the session became Ready.
func (s *Session) ReadyFingerprint(path string) (capture.Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return capture.Fingerprint{}, false
	}
	return f.readyFP, true
}

// Transition moves the session from one state to another. It fails when
// the session is no longer in from, which is how stale work notices it
// lost ownership.
func (s *Session) Transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.setStateLocked(to, ReasonNone)
	return true
}

// MarkReady moves a quiet Watching session to Ready and records the
// fingerprints it must still have when a worker picks it up.
func (s *Session) MarkReady(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Watching || len(s.files) == 0 || now.Sub(s.lastActivityAt) < timeout {
		return false
	}
	for _, f := range s.files {
		f.readyFP = f.file.Fingerprint
	}
	s.readyAt = now
	s.setStateLocked(Ready, ReasonNone)
	return true
}

// Revert sends a Ready or Classifying session back to Watching after
// fresh activity was seen on its files.
func (s *Session) Revert(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready && s.state != Classifying {
		return false
	}
	s.lastActivityAt = now
	s.readyAt = time.Time{}
	s.setStateLocked(Watching, ReasonNone)
	return true
}

// Fail moves a non-terminal session to Failed.
func (s *Session) Fail(reason Reason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.setStateLocked(Failed, reason)
	return true
}

// Finish moves an in-flight session to Done.
func (s *Session) Finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.InFlight() {
		return false
	}
	s.setStateLocked(Done, ReasonNone)
	return true
}

// Settle finishes a session a worker still owns. fn runs with the session
// held, so no observation can supersede it halfway; it is skipped when the
// session already left state from. The session ends Failed(reason) when
// reason is set, Failed(io-error) when fn fails, Done otherwise.
func (s *Session) Settle(from State, reason Reason, fn func() error) (owned bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false, nil
	}
	if fn != nil {
		err = fn()
	}
	switch {
	case err != nil:
		s.setStateLocked(Failed, ReasonIOError)
	case reason != ReasonNone:
		s.setStateLocked(Failed, reason)
	default:
		s.setStateLocked(Done, ReasonNone)
	}
	return true, err
}

func (s *Session) setStateLocked(to State, reason Reason) {
	log.Tracef("Session %s (%s epoch %d): %s -> %s %s", s.ID, s.Key, s.Epoch, s.state, to, reason)
	s.state = to
	s.reason = reason
}

// Info is a point in time view of a session for status output.
type Info struct {
	ID             string    `json:"id"`
	Key            string    `json:"key"`
	Epoch          uint64    `json:"epoch"`
	State          State     `json:"state"`
	Reason         Reason    `json:"reason,omitempty"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ReadyAt        time.Time `json:"ready_at,omitzero"`
	Files          []string  `json:"files"`
	Bytes          int64     `json:"bytes"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:             s.ID,
		Key:            s.Key.String(),
		Epoch:          s.Epoch,
		State:          s.state,
		Reason:         s.reason,
		FirstSeenAt:    s.firstSeenAt,
		LastActivityAt: s.lastActivityAt,
		ReadyAt:        s.readyAt,
	}
	for _, f := range s.filesLocked() {
		info.Files = append(info.Files, f.Name)
		info.Bytes += f.Fingerprint.Size
	}
	return info
}
