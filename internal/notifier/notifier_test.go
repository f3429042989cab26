package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"sessiond/internal/eventbus"
	logx "sessiond/pkg/logx"
)

type captureSink struct {
	mu      sync.Mutex
	notices []Notice
}

func (s *captureSink) Send(ctx context.Context, n Notice) error {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) wait(t *testing.T, n int) []Notice {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.notices)
		s.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notice(nil), s.notices...)
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	svc := New(Config{RatePerSec: 100}, logx.Logger{}, nil, sink)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	svc.Notify(Notice{Level: LevelWarn, Title: "hello", Body: "world"})

	got := sink.wait(t, 1)
	if len(got) != 1 || got[0].Title != "hello" || got[0].Level != LevelWarn {
		t.Fatalf("notices = %+v", got)
	}
	if got[0].At.IsZero() {
		t.Fatal("notice not timestamped")
	}
}

func TestNotifyBeforeStartIsDropped(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	svc := New(Config{}, logx.Logger{}, nil, sink)

	// Must not panic or block.
	svc.Notify(Notice{Title: "too early"})

	svc.Start(context.Background())
	defer svc.Stop(context.Background())
	if got := sink.wait(t, 0); len(got) != 0 {
		t.Fatalf("pre-start notice delivered: %+v", got)
	}
}

func TestFullQueueDropsNewAndSignalsBus(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	// Tiny queue, rate limit of one per second so the queue backs up.
	svc := New(Config{QueueSize: 1, RatePerSec: 1}, logx.Logger{}, bus, &captureSink{})
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	for i := 0; i < 20; i++ {
		svc.Notify(Notice{Title: "flood"})
	}

	select {
	case e := <-events:
		if e.Type != "notice.dropped" {
			t.Fatalf("event = %+v, want notice.dropped", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no notice.dropped event after flooding a full queue")
	}
}

func TestStopIsIdempotentAndNonBlocking(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, logx.Logger{}, nil, &captureSink{})
	svc.Start(context.Background())
	svc.Start(context.Background()) // second Start is a no-op

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Stop(ctx)
	svc.Stop(ctx)

	// After Stop, Notify must be a safe no-op.
	svc.Notify(Notice{Title: "late"})
}

func TestNilServiceNotify(t *testing.T) {
	t.Parallel()

	var svc *Service
	svc.Notify(Notice{Title: "nobody home"})
}
