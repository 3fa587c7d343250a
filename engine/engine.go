package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/daniellavrushin/httpcopy/archive"
	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/classify"
	"github.com/daniellavrushin/httpcopy/config"
	"github.com/daniellavrushin/httpcopy/filter"
	"github.com/daniellavrushin/httpcopy/forward"
	"github.com/daniellavrushin/httpcopy/log"
	"github.com/daniellavrushin/httpcopy/metrics"
	"github.com/daniellavrushin/httpcopy/record"
	"github.com/daniellavrushin/httpcopy/session"
)

// Forwarder replays the units of one capture.
type Forwarder interface {
	Forward(ctx context.Context, units []classify.RequestUnit) ([]forward.Result, error)
}

type Options struct {
	Dir               string
	PollInterval      time.Duration
	InactivityTimeout time.Duration
	ShutdownGrace     time.Duration
	Workers           int
	QueueSize         int
	Inotify           bool
}

type Deps struct {
	Classifier *classify.Classifier
	Forwarder  Forwarder
	Archiver   *archive.Archiver
	Store      record.Store
	Metrics    *metrics.MetricsCollector
}

// Engine drives capture files from first sight to their final directory.
type Engine struct {
	opts Options

	watcher    *capture.Watcher
	tracker    *session.Tracker
	classifier *classify.Classifier
	forwarder  Forwarder
	archiver   *archive.Archiver
	store      record.Store
	metrics    *metrics.MetricsCollector

	queued   atomic.Int32
	inFlight atomic.Int32
	workers  []workerState
	now      func() time.Time
}

type workerState struct {
	processed atomic.Uint64
	busy      atomic.Bool
}

func New(opts Options, deps Deps) (*Engine, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = config.DefaultConfig.Workers.QueueSize
	}
	if opts.InactivityTimeout <= 0 {
		return nil, fmt.Errorf("inactivity timeout must be positive")
	}
	if deps.Classifier == nil || deps.Forwarder == nil || deps.Archiver == nil {
		return nil, fmt.Errorf("classifier, forwarder and archiver are required")
	}
	if deps.Store == nil {
		deps.Store = record.Discard{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector(nil)
	}

	return &Engine{
		opts:       opts,
		watcher:    capture.NewWatcher(opts.Dir),
		tracker:    session.NewTracker(),
		classifier: deps.Classifier,
		forwarder:  deps.Forwarder,
		archiver:   deps.Archiver,
		store:      deps.Store,
		metrics:    deps.Metrics,
		workers:    make([]workerState, opts.Workers),
		now:        time.Now,
	}, nil
}

// FromConfig wires the engine and its collaborators from a validated
// configuration. The output directories are created here; failing to do
// so is fatal.
func FromConfig(cfg *config.Config, m *metrics.MetricsCollector) (*Engine, error) {
	urls, err := filter.NewURLMatcher(cfg.Filter.URLPrefixes, cfg.Filter.URLDeny)
	if err != nil {
		return nil, err
	}
	clients, err := filter.NewClientMatcher(cfg.Filter.Clients)
	if err != nil {
		return nil, err
	}

	arch := archive.New(cfg.OutputDir())
	if err := arch.EnsureDirs(); err != nil {
		return nil, log.Errorf("failed to create output directories: %w", err)
	}

	store, err := openStores(cfg)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Dir:               cfg.Capture.Dir,
		PollInterval:      cfg.PollInterval(),
		InactivityTimeout: cfg.InactivityTimeout(),
		ShutdownGrace:     cfg.ShutdownGrace(),
		Workers:           cfg.Workers.Count,
		QueueSize:         cfg.Workers.QueueSize,
		Inotify:           cfg.Capture.Inotify,
	}, Deps{
		Classifier: &classify.Classifier{Production: cfg.ListenAddr, URLs: urls, Clients: clients},
		Forwarder:  forward.New(cfg.ForwardAddr, cfg.ConnectTimeout(), cfg.ReadTimeout()),
		Archiver:   arch,
		Store:      store,
		Metrics:    m,
	})
}

func openStores(cfg *config.Config) (record.Store, error) {
	var stores record.Multi
	if !cfg.Record.Disabled {
		dir, err := record.NewDirStore(filepath.Join(cfg.OutputDir(), "records"))
		if err != nil {
			return nil, log.Errorf("failed to create record directory: %w", err)
		}
		stores = append(stores, dir)
	}
	if cfg.Record.DB != "" {
		db, err := record.OpenSQLite(cfg.Record.DB)
		if err != nil {
			stores.Close()
			return nil, log.Errorf("failed to open record database %s: %w", cfg.Record.DB, err)
		}
		stores = append(stores, db)
	}
	return stores, nil
}

func (e *Engine) Tracker() *session.Tracker { return e.tracker }

func (e *Engine) Metrics() *metrics.MetricsCollector { return e.metrics }

// Exchanges returns the SQLite index when one is configured.
func (e *Engine) Exchanges() *record.SQLiteStore {
	switch s := e.store.(type) {
	case *record.SQLiteStore:
		return s
	case record.Multi:
		for _, st := range s {
			if db, ok := st.(*record.SQLiteStore); ok {
				return db
			}
		}
	}
	return nil
}

func (e *Engine) Close() error {
	return e.store.Close()
}

// Scan takes one look at the capture directory and applies it to the
// tracker.
func (e *Engine) Scan(now time.Time) error {
	start := time.Now()
	res, err := e.watcher.Scan(now)
	if err != nil {
		return fmt.Errorf("scan %s: %w", e.watcher.Dir(), err)
	}

	for _, f := range res.Files {
		s, outcome := e.tracker.Observe(f, now)
		switch outcome {
		case session.Created:
			log.Tracef("New capture %s (session %s)", f.Name, s.ID)
		case session.Superseded:
			log.Infof("Capture %s rewritten by a new connection, restarting at epoch %d", f.Name, s.Epoch)
			e.metrics.RecordSessionFailure(string(session.ReasonSuperseded))
		case session.InFlightChange:
			log.Debugf("Capture %s changed while being processed", f.Name)
		}
	}

	for _, s := range e.tracker.Vanished(res.Present) {
		log.Infof("Capture %s disappeared before it was processed", s.Key)
		e.metrics.RecordSessionFailure(string(session.ReasonDisappeared))
	}

	e.metrics.RecordScan(time.Since(start), res.Ignored, e.tracker.Len())
	return nil
}

// Tick moves every quiet session to Ready and returns them in key order.
// Each session is returned by exactly one Tick.
func (e *Engine) Tick(now time.Time) []*session.Session {
	var ready []*session.Session
	for _, s := range e.tracker.Sessions() {
		if s.MarkReady(now, e.opts.InactivityTimeout) {
			log.Tracef("Capture %s ready after %v of inactivity", s.Key, e.opts.InactivityTimeout)
			ready = append(ready, s)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Key.String() < ready[j].Key.String() })
	return ready
}

func (e *Engine) publishWorkers() {
	status := make([]metrics.WorkerHealth, len(e.workers))
	for i := range e.workers {
		st := "idle"
		if e.workers[i].busy.Load() {
			st = "busy"
		}
		status[i] = metrics.WorkerHealth{ID: i, Processed: e.workers[i].processed.Load(), Status: st}
	}
	e.metrics.UpdateWorkerStatus(status)
	e.metrics.SetQueue(int(e.queued.Load()), int(e.inFlight.Load()))
}
