package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the snapshot queue (default 1024).
//   - MaxBatch: flush once this many snapshots are pending (default 100).
//   - MaxWait: flush pending snapshots after this long (default 250ms).
//   - SinkTimeout: deadline for each sink call (default 5s).
type Config struct {
	BufferSize  int
	MaxBatch    int
	MaxWait     time.Duration
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 1024
	defaultMaxBatch    = 100
	defaultMaxWait     = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatch
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans snapshots out to sinks from a single background goroutine. Emit is
// safe for concurrent use and never blocks; when the queue is full the
// snapshot is dropped.
type Hub struct {
	cfg     Config
	sinks   []Sink
	queue   chan Snapshot
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:   cfg,
		sinks: append([]Sink(nil), sinks...),
		queue: make(chan Snapshot, cfg.BufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit enqueues s for delivery.
func (h *Hub) Emit(s Snapshot) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := s.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress snapshot", zap.Error(err))
		return
	}
	select {
	case h.queue <- s:
	default:
		h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastLog.Load()
		if now-last >= dropLogInterval.Nanoseconds() && h.lastLog.CompareAndSwap(last, now) {
			h.cfg.Logger.Warn("progress snapshots dropped", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Close stops accepting snapshots, delivers what is queued and closes every
// sink. Later calls only wait for the first to finish.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	pending := make([]Snapshot, 0, h.cfg.MaxBatch)
	ticker := time.NewTicker(h.cfg.MaxWait)
	defer ticker.Stop()

	for {
		select {
		case s := <-h.queue:
			pending = append(pending, s)
			if len(pending) >= h.cfg.MaxBatch {
				h.deliver(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				h.deliver(pending)
				pending = pending[:0]
			}
		case <-h.stop:
			for drained := false; !drained; {
				select {
				case s := <-h.queue:
					pending = append(pending, s)
				default:
					drained = true
				}
			}
			h.deliver(pending)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(pending []Snapshot) {
	if len(pending) == 0 {
		return
	}
	batch := append([]Snapshot(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.cfg.Logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
