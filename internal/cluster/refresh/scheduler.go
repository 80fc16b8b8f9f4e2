package refresh

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/10yihang/clusterrouter/internal/cluster"
)

// DefaultDebounce is how long Trigger waits to collect more requests.
const DefaultDebounce = 50 * time.Millisecond

// Refreshable is what the scheduler drives; *Refresher implements it.
type Refreshable interface {
	Refresh(ctx context.Context) (*cluster.Snapshot, error)
}

type SchedulerOptions struct {
	// Interval between periodic refreshes; zero disables them.
	Interval time.Duration
	Debounce time.Duration
	Log      *slog.Logger
}

// batch collects the triggers folded into one debounced refresh. live counts
// the triggers whose context has not been cancelled yet.
type batch struct {
	live  int
	stops []func() bool
}

// Scheduler runs periodic refreshes and coalesces on-demand ones. Trigger
// never blocks.
type Scheduler struct {
	refresher Refreshable
	opts      SchedulerOptions

	mu      sync.Mutex
	pending *batch
	runs    atomic.Uint64

	triggerCh chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewScheduler(r Refreshable, opts SchedulerOptions) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	s := &Scheduler{
		refresher: r,
		opts:      opts,
		triggerCh: make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	var tickerC <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-s.triggerCh:
			if timer == nil {
				timer = time.NewTimer(s.opts.Debounce)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			timer = nil
			if s.takeBatch() {
				s.run("triggered")
			}

		case <-tickerC:
			s.run("periodic")

		case <-s.doneCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (s *Scheduler) run(reason string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.doneCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.runs.Add(1)
	snap, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.opts.Log.Warn("scheduled refresh failed", "reason", reason, "error", err)
		return
	}
	s.opts.Log.Debug("scheduled refresh done", "reason", reason, "version", snap.Version)
}

// takeBatch clears the pending batch and reports whether any of its triggers
// is still wanted.
func (s *Scheduler) takeBatch() bool {
	s.mu.Lock()
	b := s.pending
	s.pending = nil
	live := b != nil && b.live > 0
	s.mu.Unlock()

	if b == nil {
		return false
	}
	for _, stop := range b.stops {
		stop()
	}
	if !live {
		s.opts.Log.Debug("dropping refresh, every trigger was cancelled")
	}
	return live
}

// Trigger requests a refresh soon. Requests made while one is pending are
// folded into it. A trigger whose ctx is cancelled before the debounce window
// ends is withdrawn; the refresh is skipped when no trigger is left.
func (s *Scheduler) Trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	select {
	case <-s.doneCh:
		return
	default:
	}

	s.mu.Lock()
	b := s.pending
	first := b == nil
	if first {
		b = &batch{}
		s.pending = b
	}
	b.live++
	b.stops = append(b.stops, context.AfterFunc(ctx, func() {
		s.mu.Lock()
		b.live--
		s.mu.Unlock()
	}))
	s.mu.Unlock()

	if first {
		select {
		case s.triggerCh <- struct{}{}:
		case <-s.doneCh:
		default:
		}
	}
}

// Runs reports how many refreshes the scheduler has started.
func (s *Scheduler) Runs() uint64 {
	return s.runs.Load()
}

// Close stops the loop and waits for a running refresh to return.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.doneCh)
		s.wg.Wait()
	})
	return nil
}
