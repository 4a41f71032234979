package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/narvanalabs/pve-monitor/internal/pve"
)

var (
	// ErrNotFound is returned when no connection has the requested id.
	ErrNotFound = errors.New("connection not found")
	// ErrDuplicate is returned when a connection with the same id or the same
	// host, port and token name is already loaded.
	ErrDuplicate = errors.New("connection already configured")
)

// ClientFactory creates the API client of a connection.
type ClientFactory func(s Settings) (pve.Client, error)

// HTTPClientFactory returns a factory building pve.HTTPClient instances with
// the given per-request timeout.
func HTTPClientFactory(timeout time.Duration) ClientFactory {
	return func(s Settings) (pve.Client, error) {
		return pve.NewClient(pve.Config{
			Host:       s.Host,
			Port:       s.Port,
			TokenName:  s.TokenName,
			TokenValue: s.TokenValue,
			VerifySSL:  s.VerifySSL,
			Timeout:    timeout,
		}), nil
	}
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Deps      Deps
	NewClient ClientFactory
	// StartupMaxElapsed bounds the retries of the connection test. Zero
	// tries once.
	StartupMaxElapsed time.Duration
	// RetryInitialInterval is the first retry delay. Defaults to a second.
	RetryInitialInterval time.Duration
	// OnFirst runs when the first connection is added, OnLast after the
	// last one is removed. They register and deregister the process-wide
	// command services.
	OnFirst func()
	OnLast  func()
}

// Registry holds the loaded connections. It is passed explicitly to every
// component needing cross-connection lookups.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	// hookMu orders OnFirst/OnLast; hooked records which one ran last.
	hookMu sync.Mutex
	hooked bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Deps.Logger == nil {
		cfg.Deps.Logger = slog.Default()
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = time.Second
	}
	if cfg.NewClient == nil {
		cfg.NewClient = HTTPClientFactory(cfg.Deps.Timeout)
	}
	return &Registry{
		cfg:    cfg,
		logger: cfg.Deps.Logger.With("component", "connections"),
		conns:  make(map[string]*Connection),
	}
}

func (r *Registry) conflict(s Settings) error {
	for _, c := range r.conns {
		if c.settings.ID == s.ID {
			return fmt.Errorf("%w: id %s", ErrDuplicate, s.ID)
		}
		if c.settings.Identity() == s.Identity() {
			return fmt.Errorf("%w: %s", ErrDuplicate, s.Identity())
		}
	}
	return nil
}

// Add tests the cluster, retrying transient failures, opens the connection
// and registers it.
func (r *Registry) Add(ctx context.Context, s Settings) (*Connection, error) {
	r.mu.RLock()
	err := r.conflict(s)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	client, err := r.cfg.NewClient(s)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	if err := r.testConnection(ctx, s, client); err != nil {
		closeClient(client)
		return nil, err
	}

	conn, err := Open(ctx, s, client, r.cfg.Deps)
	if err != nil {
		closeClient(client)
		return nil, err
	}

	r.mu.Lock()
	if err := r.conflict(s); err != nil {
		r.mu.Unlock()
		conn.Unload()
		return nil, err
	}
	r.conns[s.ID] = conn
	r.mu.Unlock()

	r.syncHooks()
	return conn, nil
}

func (r *Registry) testConnection(ctx context.Context, s Settings, client pve.Client) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitialInterval
	b.MaxElapsedTime = r.cfg.StartupMaxElapsed

	var policy backoff.BackOff = b
	if r.cfg.StartupMaxElapsed <= 0 {
		policy = &backoff.StopBackOff{}
	}

	err := backoff.RetryNotify(func() error {
		err := client.TestConnection(ctx)
		if err != nil && !pve.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx), func(err error, d time.Duration) {
		r.logger.Warn("cluster not reachable, retrying",
			"connection_id", s.ID,
			"host", s.Host,
			"error", err,
			"retry_in", d.String(),
		)
	})
	if err != nil {
		return fmt.Errorf("testing connection %s: %w", s.ID, err)
	}
	return nil
}

// Remove unloads and forgets a connection.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.conns, id)
	r.mu.Unlock()

	conn.Unload()

	r.syncHooks()
	return nil
}

// syncHooks runs OnFirst or OnLast when the loaded set has become non-empty
// or empty since the last hook. The count is read under hookMu, so a Remove
// racing an Add cannot deregister the services while a connection is loaded.
func (r *Registry) syncHooks() {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	loaded := r.Len() > 0
	switch {
	case loaded && !r.hooked:
		r.hooked = true
		if r.cfg.OnFirst != nil {
			r.cfg.OnFirst()
		}
	case !loaded && r.hooked:
		r.hooked = false
		if r.cfg.OnLast != nil {
			r.cfg.OnLast()
		}
	}
}

// Get returns a loaded connection.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// List returns the loaded connections ordered by name, then id.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Len returns the number of loaded connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close removes every connection.
func (r *Registry) Close() {
	for _, c := range r.List() {
		_ = r.Remove(c.ID())
	}
}

func closeClient(client pve.Client) {
	if closer, ok := client.(io.Closer); ok {
		_ = closer.Close()
	}
}
