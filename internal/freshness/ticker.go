package freshness

import (
	"context"
	"sync"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"

	"go.uber.org/zap"
)

// Ticker drives Tracker.Tick on a fixed interval. Start and Stop are idempotent,
// and a stopped Ticker can be started again; the tracker keeps its state across restarts.
type Ticker struct {
	tracker  *Tracker
	interval time.Duration
	onTick   func(models.Freshness)
	clock    func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker creates a stopped ticker; onTick may be nil.
// onTick runs on the ticker goroutine and must not call Stop.
func NewTicker(tracker *Tracker, interval time.Duration, onTick func(models.Freshness), logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		tracker:  tracker,
		interval: interval,
		onTick:   onTick,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start launches the loop; it returns false when already running
func (t *Ticker) Start(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runningLocked() {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.run(runCtx, done)
	return true
}

// Stop cancels the loop and waits for it to exit
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

func (t *Ticker) runningLocked() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Ticker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Debug("Freshness ticker started", zap.Duration("interval", t.interval))

	t.tick()
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("Freshness ticker stopped")
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	f := t.tracker.Tick(t.clock())
	if t.onTick != nil {
		t.onTick(f)
	}
}
