package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/daniellavrushin/httpcopy/archive"
	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/classify"
	"github.com/daniellavrushin/httpcopy/forward"
	"github.com/daniellavrushin/httpcopy/log"
	"github.com/daniellavrushin/httpcopy/record"
	"github.com/daniellavrushin/httpcopy/session"
	"github.com/google/uuid"
)

type Status string

const (
	// StatusArchived: the capture reached its category directory.
	StatusArchived Status = "archived"
	// StatusReverted: the files changed after Ready; watching again.
	StatusReverted Status = "reverted"
	// StatusStale: the session was superseded or already handled.
	StatusStale Status = "stale"
	// StatusFailed: an I/O error ended the session without relocation.
	StatusFailed Status = "failed"
	// StatusShutdown: forwarding was cut short by shutdown.
	StatusShutdown Status = "shutdown"
)

// Outcome reports what Process did with one session.
type Outcome struct {
	Status   Status
	Class    classify.Classification
	Category archive.Category
	Dests    []string
	Results  []forward.Result
	Err      error
}

var errChanged = errors.New("capture changed while reading")

var categoryOf = map[classify.Classification]archive.Category{
	classify.Invalid:       archive.Invalid,
	classify.InvalidOneway: archive.InvalidOneway,
	classify.InvalidServer: archive.InvalidServer,
	classify.InvalidURL:    archive.InvalidURL,
}

// Process runs one Ready session through classification, forwarding,
// recording and archiving. It is a no-op for sessions that are no longer
// Ready.
func (e *Engine) Process(ctx context.Context, s *session.Session) Outcome {
	if !s.Transition(session.Ready, session.Classifying) {
		return Outcome{Status: StatusStale}
	}
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	dirs, err := e.readSession(s)
	switch {
	case errors.Is(err, errChanged):
		if s.Revert(e.now()) {
			log.Debugf("Capture %s changed after becoming ready, watching again", s.Key)
			e.metrics.RecordRevert()
			return Outcome{Status: StatusReverted}
		}
		return Outcome{Status: StatusStale}
	case err != nil:
		reason := session.ReasonIOError
		if errors.Is(err, fs.ErrNotExist) {
			reason = session.ReasonDisappeared
		}
		if s.Fail(reason) {
			log.Errorf("Capture %s: %v", s.Key, err)
			e.metrics.RecordSessionFailure(string(reason))
		}
		e.tracker.Remove(s)
		return Outcome{Status: StatusFailed, Err: err}
	}

	res := e.classifier.Classify(dirs)
	if !res.Class.Forwardable() {
		log.Infof("Capture %s classified %s: %s", s.Key, res.Class, res.Detail)
		return e.settle(s, session.Classifying, res, categoryOf[res.Class], session.ReasonNone, nil)
	}

	if !s.Transition(session.Classifying, session.Forwarding) {
		return Outcome{Status: StatusStale, Class: res.Class}
	}
	log.Infof("Forwarding capture %s: %d request(s) from %s", s.Key, len(res.Units), res.Client)

	results, ferr := e.forwarder.Forward(ctx, res.Units)
	if ctx.Err() != nil {
		if s.Fail(session.ReasonShutdown) {
			log.Infof("Forwarding of %s interrupted by shutdown, capture left in place", s.Key)
			e.metrics.RecordSessionFailure(string(session.ReasonShutdown))
		}
		e.tracker.Remove(s)
		return Outcome{Status: StatusShutdown, Class: res.Class, Results: results, Err: ctx.Err()}
	}

	e.recordExchanges(ctx, s, res, results)

	if ferr != nil {
		log.Errorf("Forwarding capture %s to test server failed: %v", s.Key, ferr)
		return e.settle(s, session.Forwarding, res, archive.ForwardFailed, session.ReasonForwardFailed, results)
	}
	log.Infof("Forwarded capture %s: %d request(s)", s.Key, len(results))
	return e.settle(s, session.Forwarding, res, archive.Forward, session.ReasonNone, results)
}

// readSession reads every owned file and verifies none changed since
// Ready, neither before nor during the read.
func (e *Engine) readSession(s *session.Session) ([]classify.Direction, error) {
	files := s.Files()
	dirs := make([]classify.Direction, 0, len(files))
	for _, f := range files {
		ready, _ := s.ReadyFingerprint(f.Path)

		before, err := capture.Stat(f.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.Name, err)
		}
		if before.Changed(ready) {
			return nil, errChanged
		}

		data, after, err := capture.ReadSnapshot(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if after.Changed(before) || int64(len(data)) != after.Size {
			return nil, errChanged
		}
		dirs = append(dirs, classify.Direction{File: f, Data: data})
	}
	return dirs, nil
}

// settle archives the session's files into category if the worker still
// owns the session, then drops it from the tracker.
func (e *Engine) settle(s *session.Session, from session.State, res classify.Result, category archive.Category,
	reason session.Reason, results []forward.Result) Outcome {

	out := Outcome{Class: res.Class, Category: category, Results: results}
	files := s.Files()
	owned, err := s.Settle(from, reason, func() error {
		for _, f := range files {
			dest, err := e.archiver.Place(f.Path, category)
			if err != nil {
				return err
			}
			if dest != "" {
				out.Dests = append(out.Dests, dest)
			}
		}
		return nil
	})
	e.tracker.Remove(s)

	switch {
	case !owned:
		log.Infof("Capture %s was superseded while being processed, result discarded", s.Key)
		out.Status = StatusStale
	case err != nil:
		log.Errorf("Failed to archive capture %s: %v", s.Key, err)
		e.metrics.RecordSessionFailure(string(session.ReasonIOError))
		out.Status = StatusFailed
		out.Err = err
	default:
		log.Tracef("Capture %s archived to %s", s.Key, category)
		e.metrics.RecordCapture(s.Key.String(), string(res.Class), len(res.Units), string(category))
		if reason != session.ReasonNone {
			e.metrics.RecordSessionFailure(string(reason))
		}
		out.Status = StatusArchived
	}
	return out
}

func (e *Engine) recordExchanges(ctx context.Context, s *session.Session, res classify.Result, results []forward.Result) {
	captured := s.FirstSeenAt()
	for i, u := range res.Units {
		var r forward.Result
		if i < len(results) {
			r = results[i]
		}
		e.metrics.RecordUnit(string(r.ErrorKind), len(u.RequestBytes), r.Duration)

		ex := record.Exchange{
			ID:                 uuid.NewString(),
			SessionID:          s.ID,
			Key:                s.Key.String(),
			Epoch:              s.Epoch,
			Client:             res.Client.String(),
			Server:             res.Server.String(),
			Seq:                u.Seq,
			Method:             u.Method,
			Target:             u.Target,
			Request:            u.RequestBytes,
			ProductionResponse: u.ProductionResponseBytes,
			TestResponse:       r.TestResponseBytes,
			ErrorKind:          string(r.ErrorKind),
			CapturedAt:         captured,
			ForwardedAt:        r.StartedAt,
			Duration:           r.Duration,
		}
		if r.Err != nil {
			ex.Error = r.Err.Error()
		}
		if ex.ForwardedAt.IsZero() {
			ex.ForwardedAt = time.Now()
		}
		if err := e.store.Save(ctx, ex); err != nil {
			log.Errorf("Failed to record exchange %d of %s: %v", u.Seq, s.Key, err)
		}
	}
}
