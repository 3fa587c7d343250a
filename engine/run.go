package engine

import (
	"context"
	"time"

	"github.com/daniellavrushin/httpcopy/capture"
	"github.com/daniellavrushin/httpcopy/log"
	"github.com/daniellavrushin/httpcopy/session"
	"golang.org/x/sync/errgroup"
)

// notifyDebounce is the minimum spacing of scans triggered by inotify.
const notifyDebounce = 100 * time.Millisecond

// Run drives the engine until ctx is canceled. With a zero poll interval
// it scans once, processes whatever is already quiet and returns.
//
// After ctx is done no new work starts: queued sessions are dropped with
// their files left in place, and captures still being forwarded get
// ShutdownGrace to finish before their connections are cut.
func (e *Engine) Run(ctx context.Context) error {
	workCtx, cancelWork := e.graceContext(ctx)
	defer cancelWork()

	if e.opts.PollInterval <= 0 {
		return e.runOnce(ctx, workCtx)
	}

	log.Infof("Watching %s every %v, %d worker(s), inactivity timeout %v",
		e.opts.Dir, e.opts.PollInterval, len(e.workers), e.opts.InactivityTimeout)

	queue := make(chan *session.Session, e.opts.QueueSize)

	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		e.watch(ctx, queue)
		return nil
	})
	for i := range e.workers {
		i := i
		g.Go(func() error {
			e.work(ctx, workCtx, i, queue)
			return nil
		})
	}
	err := g.Wait()

	log.Infof("Engine stopped, %d capture(s) left pending", e.tracker.Len())
	return err
}

// graceContext returns a context for in-flight work that outlives ctx by
// the shutdown grace period.
func (e *Engine) graceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		if e.opts.ShutdownGrace <= 0 {
			cancel()
			return
		}
		log.Infof("Shutting down, waiting up to %v for in-flight captures", e.opts.ShutdownGrace)
		time.AfterFunc(e.opts.ShutdownGrace, cancel)
	})
	return workCtx, func() {
		stop()
		cancel()
	}
}

func (e *Engine) runOnce(ctx, workCtx context.Context) error {
	now := e.now()
	if err := e.Scan(now); err != nil {
		return err
	}
	ready := e.Tick(now)
	log.Infof("Single scan of %s: %d capture(s) ready, %d still active",
		e.opts.Dir, len(ready), e.tracker.Len()-len(ready))

	var g errgroup.Group
	g.SetLimit(len(e.workers))
	for _, s := range ready {
		if ctx.Err() != nil {
			e.drop(s)
			continue
		}
		s := s
		g.Go(func() error {
			e.Process(workCtx, s)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) watch(ctx context.Context, queue chan<- *session.Session) {
	var notifier *capture.Notifier
	if e.opts.Inotify {
		n, err := capture.NewNotifier(e.opts.Dir)
		if err != nil {
			log.Warnf("inotify unavailable, falling back to polling: %v", err)
		} else {
			notifier = n
			defer notifier.Close()
		}
	}

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		last = e.now()
		if err := e.Scan(last); err != nil {
			log.Warnf("%v", err)
		}
		e.enqueue(ctx, queue, e.Tick(last))
		e.publishWorkers()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-notifier.C():
			if wait := notifyDebounce - e.now().Sub(last); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}
	}
}

// enqueue hands ready sessions to the workers. It blocks while the queue
// is full, which also holds back the next scan.
func (e *Engine) enqueue(ctx context.Context, queue chan<- *session.Session, ready []*session.Session) {
	for i, s := range ready {
		e.queued.Add(1)
		select {
		case queue <- s:
		case <-ctx.Done():
			e.queued.Add(-1)
			for _, rest := range ready[i:] {
				e.drop(rest)
			}
			return
		}
	}
}

func (e *Engine) work(ctx, workCtx context.Context, id int, queue <-chan *session.Session) {
	w := &e.workers[id]
	for s := range queue {
		e.queued.Add(-1)
		if ctx.Err() != nil {
			e.drop(s)
			continue
		}

		w.busy.Store(true)
		e.publishWorkers()
		out := e.Process(workCtx, s)
		w.processed.Add(1)
		w.busy.Store(false)
		e.publishWorkers()

		if out.Status == StatusArchived {
			log.Tracef("Worker %d: %s -> %s", id, s.Key, out.Category)
		}
	}
}

// drop abandons a session that was never started. Its files stay where
// they are and are picked up again on the next start.
func (e *Engine) drop(s *session.Session) {
	if s.Fail(session.ReasonShutdown) {
		log.Debugf("Dropping queued capture %s on shutdown", s.Key)
		e.metrics.RecordSessionFailure(string(session.ReasonShutdown))
	}
	e.tracker.Remove(s)
}
