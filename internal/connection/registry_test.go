package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/entity"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/internal/pve/pvetest"
	"github.com/narvanalabs/pve-monitor/internal/reconciler"
	"github.com/narvanalabs/pve-monitor/internal/store/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusterClient() *pvetest.Client {
	return &pvetest.Client{
		Resources: []models.Record{
			{"node": "pve1", "type": "qemu", "vmid": 100, "name": "web"},
			{"node": "pve1", "type": "lxc", "vmid": 101, "name": "db"},
		},
		Nodes: []models.Record{{"node": "pve1", "status": "online"}},
	}
}

func settings(id, host string) Settings {
	return Settings{
		ID:         id,
		Name:       id,
		Host:       host,
		Port:       8006,
		TokenName:  "monitor@pve!ro",
		TokenValue: "secret",
		Options:    models.DefaultOptions(),
	}
}

type flakyClient struct {
	*pvetest.Client
	failures int32
	calls    atomic.Int32
}

func (f *flakyClient) TestConnection(ctx context.Context) error {
	if f.calls.Add(1) <= f.failures {
		return &pve.APIError{StatusCode: 503, Path: "/version", Message: "proxy loop"}
	}
	return nil
}

func newRegistry(t *testing.T, clients map[string]pve.Client, cfg RegistryConfig) *Registry {
	t.Helper()
	st, err := memdb.New()
	require.NoError(t, err)

	cfg.Deps.Store = st
	cfg.Deps.Timeout = time.Second
	cfg.NewClient = func(s Settings) (pve.Client, error) {
		return clients[s.ID], nil
	}
	r := NewRegistry(cfg)
	t.Cleanup(r.Close)
	return r
}

func TestAddLoadsEntities(t *testing.T) {
	client := clusterClient()
	r := newRegistry(t, map[string]pve.Client{"a": client}, RegistryConfig{})

	conn, err := r.Add(context.Background(), settings("a", "pve-a"))
	require.NoError(t, err)

	assert.True(t, conn.Healthy())
	assert.Len(t, conn.Reconciler().Tracked(entity.PlatformSwitch), 2)
	assert.Len(t, conn.Reconciler().Tracked(entity.PlatformSensor), 3)
	assert.Equal(t, 1, client.Calls("TestConnection"))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, conn, got)

	infos := conn.Coordinators()
	require.GreaterOrEqual(t, len(infos), 2)
	assert.Equal(t, "proxmox_resources", infos[0].Name)
	assert.Equal(t, "proxmox_nodes", infos[1].Name)
}

func TestDuplicateConnectionsRejected(t *testing.T) {
	r := newRegistry(t, map[string]pve.Client{
		"a": clusterClient(),
		"b": clusterClient(),
		"c": clusterClient(),
	}, RegistryConfig{})
	ctx := context.Background()

	_, err := r.Add(ctx, settings("a", "pve-a"))
	require.NoError(t, err)

	_, err = r.Add(ctx, settings("a", "pve-other"))
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = r.Add(ctx, settings("b", "PVE-A"))
	assert.ErrorIs(t, err, ErrDuplicate)

	other := settings("c", "pve-a")
	other.TokenName = "other@pve!ro"
	_, err = r.Add(ctx, other)
	assert.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	client := clusterClient()
	client.ConnErr = &pve.APIError{StatusCode: 401, Path: "/version", Message: "authentication failure"}
	r := newRegistry(t, map[string]pve.Client{"a": client}, RegistryConfig{
		StartupMaxElapsed:    time.Second,
		RetryInitialInterval: 10 * time.Millisecond,
	})

	_, err := r.Add(context.Background(), settings("a", "pve-a"))
	require.Error(t, err)
	assert.True(t, pve.IsUnauthorized(err))
	assert.Equal(t, 1, client.Calls("TestConnection"))
	assert.Zero(t, r.Len())
}

func TestTransientFailuresAreRetried(t *testing.T) {
	client := &flakyClient{Client: clusterClient(), failures: 2}
	r := newRegistry(t, map[string]pve.Client{"a": client}, RegistryConfig{
		StartupMaxElapsed:    5 * time.Second,
		RetryInitialInterval: 10 * time.Millisecond,
	})

	_, err := r.Add(context.Background(), settings("a", "pve-a"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), client.calls.Load())
}

func TestFirstRefreshFailureAbortsSetup(t *testing.T) {
	client := clusterClient()
	client.ResourcesErr = &pve.APIError{StatusCode: 500, Path: "/cluster/resources", Message: "boom"}
	r := newRegistry(t, map[string]pve.Client{"a": client}, RegistryConfig{})

	_, err := r.Add(context.Background(), settings("a", "pve-a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first refresh")
	assert.Zero(t, r.Len())
}

func TestLifecycleHooks(t *testing.T) {
	var first, last int
	r := newRegistry(t, map[string]pve.Client{
		"a": clusterClient(),
		"b": clusterClient(),
	}, RegistryConfig{
		OnFirst: func() { first++ },
		OnLast:  func() { last++ },
	})
	ctx := context.Background()

	a, err := r.Add(ctx, settings("a", "pve-a"))
	require.NoError(t, err)
	_, err = r.Add(ctx, settings("b", "pve-b"))
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	require.NoError(t, r.Remove("a"))
	assert.Zero(t, last)
	_, err = a.Reconciler().ReconcileGuests(ctx, nil)
	assert.ErrorIs(t, err, reconciler.ErrClosed)

	require.NoError(t, r.Remove("b"))
	assert.Equal(t, 1, last)

	assert.ErrorIs(t, r.Remove("b"), ErrNotFound)
}

func TestLifecycleHooksUnderConcurrentChurn(t *testing.T) {
	var active, overlaps atomic.Int32
	r := newRegistry(t, map[string]pve.Client{
		"a": clusterClient(),
		"b": clusterClient(),
	}, RegistryConfig{
		OnFirst: func() {
			if active.Add(1) != 1 {
				overlaps.Add(1)
			}
		},
		OnLast: func() {
			if active.Add(-1) != 0 {
				overlaps.Add(1)
			}
		},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host := "pve-" + id
			for range 25 {
				if _, err := r.Add(ctx, settings(id, host)); err == nil {
					_ = r.Remove(id)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
	assert.Zero(t, r.Len())
	assert.Zero(t, active.Load())

	_, err := r.Add(ctx, settings("a", "pve-a"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), active.Load())
}

func TestApplyOptions(t *testing.T) {
	r := newRegistry(t, map[string]pve.Client{"a": clusterClient()}, RegistryConfig{})
	conn, err := r.Add(context.Background(), settings("a", "pve-a"))
	require.NoError(t, err)

	guest, ok := conn.Reconciler().GuestCoordinator(models.GuestKey("pve1", models.KindVM, 100))
	require.True(t, ok)

	err = conn.ApplyOptions(models.Options{ScanInterval: time.Second, IPMode: models.IPModeAny})
	assert.Error(t, err)

	opts := models.Options{ScanInterval: 90 * time.Second, IPMode: models.IPModePreferPrivate, IPPrefix: "192.168."}
	require.NoError(t, conn.ApplyOptions(opts))

	assert.Equal(t, opts, conn.Options())
	assert.Equal(t, opts, conn.Settings().Options)
	assert.Equal(t, 90*time.Second, conn.Inventory().Interval())
	assert.Equal(t, 90*time.Second, conn.Nodes().Interval())
	assert.Equal(t, 90*time.Second, guest.Interval())
	assert.Equal(t, models.IPModePreferPrivate, guest.Policy().Mode)

	same, _ := conn.Reconciler().GuestCoordinator(models.GuestKey("pve1", models.KindVM, 100))
	assert.Same(t, guest, same)
}

func TestIdentity(t *testing.T) {
	s := Settings{Host: "PVE.lab", TokenName: "root@pam!x"}
	assert.Equal(t, "pve.lab:8006:root@pam!x", s.Identity())

	s.Port = 443
	assert.Equal(t, "pve.lab:443:root@pam!x", s.Identity())
}
