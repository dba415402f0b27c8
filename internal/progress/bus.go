package progress

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mode selects how a Bus delivers events.
type Mode int

// Delivery modes.
const (
	// Sync delivers inline; Publish returns after every matching listener ran.
	Sync Mode = iota
	// Async hands each delivery to background goroutines; Publish never blocks.
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// Config controls delivery for the Bus.
//   - Mode: Sync or Async (default Sync).
//   - Workers: delivery goroutines in Async mode (default 4).
//   - BufferSize: pending deliveries in Async mode (default 1024).
//   - ListenerTimeout: context deadline for each OnEvent call (default 10s).
//   - BaseContext: parent context passed to listeners (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	Mode            Mode
	Workers         int
	BufferSize      int
	ListenerTimeout time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultWorkers         = 4
	defaultBufferSize      = 1024
	defaultListenerTimeout = 10 * time.Second
	dropLogInterval        = 5 * time.Second
)

type subscription struct {
	listener Listener
	types    map[Type]struct{}
}

func (s subscription) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type delivery struct {
	listener Listener
	event    Event
}

// Bus fans events out to registered listeners. The listener registry is
// copy-on-write: Subscribe and Unsubscribe never disturb a fan-out that is
// already iterating. Bus is safe for concurrent use.
type Bus struct {
	cfg         Config
	mu          sync.Mutex
	subs        atomic.Pointer[[]subscription]
	deliveries  chan delivery
	stopCh      chan struct{}
	doneCh      chan struct{}
	wg          sync.WaitGroup
	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewBus builds a Bus and, in Async mode, starts its delivery goroutines.
func NewBus(cfg Config, listeners ...Listener) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ListenerTimeout <= 0 {
		cfg.ListenerTimeout = defaultListenerTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	empty := []subscription{}
	b.subs.Store(&empty)
	for _, l := range listeners {
		b.Subscribe(l)
	}
	if cfg.Mode == Async {
		b.deliveries = make(chan delivery, cfg.BufferSize)
		for range cfg.Workers {
			b.wg.Add(1)
			go b.runWorker()
		}
	}
	go func() {
		<-b.stopCh
		b.wg.Wait()
		close(b.doneCh)
	}()
	return b
}

// Mode returns the delivery mode fixed at construction.
func (b *Bus) Mode() Mode {
	return b.cfg.Mode
}

// Subscribe registers l. It returns false when l is nil, not comparable, or
// already registered.
func (b *Bus) Subscribe(l Listener) bool {
	if l == nil {
		return false
	}
	if !reflect.TypeOf(l).Comparable() {
		b.logger.Warn("rejecting non-comparable event listener", zap.String("listener", l.Name()))
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	for _, s := range current {
		if s.listener == l {
			return false
		}
	}
	sub := subscription{listener: l}
	if interests := l.Interests(); len(interests) > 0 {
		sub.types = make(map[Type]struct{}, len(interests))
		for _, t := range interests {
			sub.types[t] = struct{}{}
		}
	}
	next := make([]subscription, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, sub)
	b.subs.Store(&next)
	return true
}

// Unsubscribe removes l and reports whether it was registered.
func (b *Bus) Unsubscribe(l Listener) bool {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	next := make([]subscription, 0, len(current))
	found := false
	for _, s := range current {
		if s.listener == l {
			found = true
			continue
		}
		next = append(next, s)
	}
	if found {
		b.subs.Store(&next)
	}
	return found
}

// Listeners returns the names of registered listeners in registration order.
func (b *Bus) Listeners() []string {
	current := *b.subs.Load()
	names := make([]string, 0, len(current))
	for _, s := range current {
		names = append(names, s.listener.Name())
	}
	return names
}

// Publish delivers evt to every interested listener. In Sync mode it returns
// once all of them returned; in Async mode it never blocks and drops
// deliveries when the buffer is full, logging a rate-limited warning.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if b.closed.Load() {
		b.logger.Debug("discarding event published after close", zap.String("type", string(evt.Type)))
		return
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	for _, s := range *b.subs.Load() {
		if !s.wants(evt.Type) {
			continue
		}
		if b.cfg.Mode == Sync {
			b.deliver(s.listener, evt)
			continue
		}
		select {
		case b.deliveries <- delivery{listener: s.listener, event: evt}:
		default:
			b.dropped.Add(1)
			if b.dropLimiter.Allow(time.Now()) {
				count := b.dropped.Swap(0)
				b.logger.Warn("event deliveries dropped due to backpressure", zap.Int64("dropped", count))
			}
		}
	}
}

// Close stops accepting events and waits for the delivery goroutines to
// drain what is already buffered. It is safe to call multiple times.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.stopCh)
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus close wait: %w", ctx.Err())
	}
}

func (b *Bus) runWorker() {
	defer b.wg.Done()
	for {
		select {
		case d := <-b.deliveries:
			b.deliver(d.listener, d.event)
		case <-b.stopCh:
			for {
				select {
				case d := <-b.deliveries:
					b.deliver(d.listener, d.event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(l Listener, evt Event) {
	ctx, cancel := context.WithTimeout(b.cfg.BaseContext, b.cfg.ListenerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("listener", l.Name()),
				zap.String("type", string(evt.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	if err := l.OnEvent(ctx, evt); err != nil {
		b.logger.Warn("event listener failed",
			zap.String("listener", l.Name()),
			zap.String("type", string(evt.Type)),
			zap.Error(err),
		)
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
