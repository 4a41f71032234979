// Package coordinator implements the periodic-fetch caches that poll the
// cluster API. Each coordinator owns its schedule, its last good snapshot,
// its last failure and a list of listeners.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/metrics"
)

// State is the phase of a coordinator's fetch cycle.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateSuccess  State = "success"
	StateFailed   State = "failed"
)

// FetchFunc performs one fetch against the cluster.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Update is delivered to listeners after every fetch.
type Update[T any] struct {
	Coordinator string
	Data        T
	HasData     bool
	// Err is an *UpdateFailedError when the fetch failed, nil otherwise.
	Err error
}

// Success reports whether the fetch that produced the update succeeded.
func (u Update[T]) Success() bool {
	return u.Err == nil
}

// Listener observes coordinator updates. Listeners run synchronously, in
// subscription order, before the next fetch can start. A listener must not
// call Refresh on the coordinator that notified it.
type Listener[T any] interface {
	OnUpdate(Update[T])
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc[T any] func(Update[T])

// OnUpdate calls f(u).
func (f ListenerFunc[T]) OnUpdate(u Update[T]) { f(u) }

// Config configures a coordinator.
type Config struct {
	// Name identifies the coordinator in logs and diagnostics.
	Name string
	// Kind is the coordinator flavor used as a metrics label.
	Kind string
	// Connection is the owning cluster connection id.
	Connection string
	Interval   time.Duration
	// Timeout bounds a single fetch. Zero means the interval.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Info is a point-in-time description of a coordinator.
type Info struct {
	Name              string
	Kind              string
	Interval          time.Duration
	State             State
	LastUpdateSuccess bool
	LastError         error
	LastUpdate        time.Time
	Data              any
	HasData           bool
}

type inflight struct {
	done chan struct{}
	err  error
}

type subscription[T any] struct {
	id       uint64
	listener Listener[T]
}

// Coordinator is a periodic-fetch cache for one resource.
type Coordinator[T any] struct {
	cfg    Config
	fetch  FetchFunc[T]
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	interval    time.Duration
	state       State
	data        T
	hasData     bool
	lastErr     error
	lastSuccess bool
	lastUpdate  time.Time
	current     *inflight
	listeners   []subscription[T]
	nextID      uint64
	running     bool
	stopped     bool
	stopChan    chan struct{}
	resetChan   chan struct{}
}

// New creates a coordinator. It does not fetch until Start or Refresh is called.
func New[T any](cfg Config, fetch FetchFunc[T]) *Coordinator[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		cfg:       cfg,
		fetch:     fetch,
		logger:    logger.With("coordinator", cfg.Name),
		ctx:       ctx,
		cancel:    cancel,
		interval:  cfg.Interval,
		state:     StateIdle,
		stopChan:  make(chan struct{}),
		resetChan: make(chan struct{}, 1),
	}
}

// Name returns the coordinator name.
func (c *Coordinator[T]) Name() string {
	return c.cfg.Name
}

// Start runs the tick loop until Stop is called or ctx is cancelled.
// Every tick performs one Refresh.
func (c *Coordinator[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	interval := c.interval
	c.mu.Unlock()

	metrics.CoordinatorStarted(c.cfg.Connection, c.cfg.Kind)
	defer metrics.CoordinatorStopped(c.cfg.Connection, c.cfg.Kind)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("coordinator stopped by context")
			return ctx.Err()
		case <-c.stopChan:
			c.logger.Debug("coordinator stopped")
			return nil
		case <-c.resetChan:
			ticker.Reset(c.Interval())
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Stop halts all further ticks and cancels an in-flight fetch.
func (c *Coordinator[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	c.running = false
	close(c.stopChan)
	c.cancel()
}

// Interval returns the current poll interval.
func (c *Coordinator[T]) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// SetInterval changes the poll interval in place and restarts the ticker.
func (c *Coordinator[T]) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()

	select {
	case c.resetChan <- struct{}{}:
	default:
	}
}

// Subscribe registers a listener and returns a function that removes it.
func (c *Coordinator[T]) Subscribe(l Listener[T]) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, subscription[T]{id: id, listener: l})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.listeners {
			if s.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Data returns the last good snapshot. The bool is false until the first
// successful fetch.
func (c *Coordinator[T]) Data() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data, c.hasData
}

// LastError returns the failure recorded by the most recent fetch.
func (c *Coordinator[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdateSuccess reports whether the most recent fetch succeeded.
func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// State returns the current fetch phase.
func (c *Coordinator[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info describes the coordinator for diagnostics.
func (c *Coordinator[T]) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Name:              c.cfg.Name,
		Kind:              c.cfg.Kind,
		Interval:          c.interval,
		State:             c.state,
		LastUpdateSuccess: c.lastSuccess,
		LastError:         c.lastErr,
		LastUpdate:        c.lastUpdate,
		Data:              c.data,
		HasData:           c.hasData,
	}
}

// Refresh runs one fetch. If a fetch is already in flight the caller waits
// for its result instead of starting another. ctx only bounds the wait; the
// fetch itself is bound to the coordinator's lifetime.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if call := c.current; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	c.current = call
	c.state = StateFetching
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = c.interval
	}
	c.mu.Unlock()

	call.err = c.run(timeout)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	close(call.done)

	return call.err
}

// RefreshAsync starts a refresh without waiting for it.
func (c *Coordinator[T]) RefreshAsync() {
	go func() {
		_ = c.Refresh(c.ctx)
	}()
}

func (c *Coordinator[T]) run(timeout time.Duration) error {
	fetchCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	start := time.Now()
	data, err := c.fetch(fetchCtx)
	metrics.RecordCoordinatorUpdate(c.cfg.Connection, c.cfg.Kind, time.Since(start), err)

	c.mu.Lock()
	wasFailing := c.lastErr != nil
	c.lastUpdate = time.Now()
	if err != nil {
		err = &UpdateFailedError{Coordinator: c.cfg.Name, Err: err}
		c.lastErr = err
		c.lastSuccess = false
		c.state = StateFailed
	} else {
		c.data = data
		c.hasData = true
		c.lastErr = nil
		c.lastSuccess = true
		c.state = StateSuccess
	}
	update := Update[T]{Coordinator: c.cfg.Name, Data: c.data, HasData: c.hasData, Err: err}
	listeners := make([]Listener[T], len(c.listeners))
	for i, s := range c.listeners {
		listeners[i] = s.listener
	}
	c.mu.Unlock()

	switch {
	case err != nil && !wasFailing:
		c.logger.Error("coordinator update failed", "error", err)
	case err != nil:
		c.logger.Debug("coordinator update still failing", "error", err)
	case wasFailing:
		c.logger.Info("coordinator update recovered")
	}

	for _, l := range listeners {
		l.OnUpdate(update)
	}
	return err
}
