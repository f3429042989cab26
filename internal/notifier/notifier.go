// Package notifier delivers fire-and-forget user-facing notices.
//
// Delivery is best-effort and never blocks the orchestration engine: notices
// go through a bounded queue, a rate limiter and pluggable sinks. A full
// queue drops the new notice (with a bus event) rather than stalling the
// caller.
package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sessiond/internal/eventbus"
	rtsup "sessiond/internal/runtime/supervisor"
	logx "sessiond/pkg/logx"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is one user-facing message (e.g. "schedule failed to start:
// preset missing").
type Notice struct {
	Level Level
	Title string
	Body  string
	At    time.Time
}

// Sink delivers a notice to one destination.
type Sink interface {
	Send(ctx context.Context, n Notice) error
}

type Config struct {
	QueueSize  int
	RatePerSec int
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	cfg   Config
	lim   *rate.Limiter
	sinks []Sink

	queue     chan Notice
	sup       *rtsup.Supervisor
	accepting bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Service{
		log:   log,
		bus:   bus,
		cfg:   cfg,
		lim:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		sinks: sinks,
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notice, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	sup.Go0("notifier.worker", func(c context.Context) { s.workerLoop(c, q) })
}

// Stop blocks intake, drains best-effort until ctx expires, then cancels.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()

	close(q)
	if sup != nil {
		if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues a notice. Non-blocking: a stopped service or a full queue
// drops the notice.
func (s *Service) Notify(n Notice) {
	if s == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}

	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	s.mu.Unlock()

	if !accepting || q == nil {
		return
	}

	defer func() { _ = recover() }() // queue may close concurrently with Stop
	select {
	case q <- n:
	default:
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "notice.dropped", Data: n.Title})
		}
		s.log.Debug("notice dropped (queue full)", logx.String("title", n.Title))
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			if err := s.lim.Wait(ctx); err != nil {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notice) {
	s.mu.Lock()
	sinks := s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Send(cctx, n)
		cancel()
		if err != nil {
			s.log.Debug("notice delivery failed", logx.String("title", n.Title), logx.Err(err))
		}
	}
}
