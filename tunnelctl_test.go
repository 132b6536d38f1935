package tunnelctl

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/tunnelctl/internal/clock"
	"github.com/loykin/tunnelctl/internal/notify"
	"github.com/loykin/tunnelctl/internal/process/processtest"
)

type collected struct {
	mu sync.Mutex
	ns []Notification
}

func (c *collected) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ns = append(c.ns, n)
	return nil
}

func (c *collected) variants() []notify.Variant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Variant, 0, len(c.ns))
	for _, n := range c.ns {
		out = append(out, n.Variant)
	}
	return out
}

func writeProfiles(t *testing.T, path string, ps ...Profile) {
	t.Helper()
	b, err := json.MarshalIndent(map[string]any{"profiles": ps}, "", "  ")
	require.NoError(t, err)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, b, 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func tunnel(id string, enabled bool) Profile {
	return Profile{
		ID:                   id,
		Name:                 id,
		Command:              "ssh -N -L 8080:localhost:80 " + id,
		Enabled:              enabled,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
	}
}

type harness struct {
	d    *Daemon
	sp   *processtest.Spawner
	clk  *clock.Fake
	seen *collected
	path string
}

func open(t *testing.T, watch bool, ps ...Profile) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	writeProfiles(t, path, ps...)

	cfg := DefaultConfig()
	cfg.Store.DSN = path
	cfg.Store.Watch = watch
	cfg.Notify.Desktop = false
	cfg.Notify.Log = false
	cfg.Notify.WebhookURL = ""
	cfg.Metrics.Enabled = false
	cfg.Supervisor.PollInterval = time.Hour

	h := &harness{
		sp:   processtest.New(),
		clk:  clock.NewFake(time.Unix(1_700_000_000, 0)),
		seen: &collected{},
		path: path,
	}
	d, err := Open(context.Background(), cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSpawner(h.sp),
		WithClock(h.clk),
		WithNotifier(h.seen),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	h.d = d
	return h
}

func TestOpenRejectsEmptyStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DSN = ""
	_, err := Open(context.Background(), cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.Error(t, err)
}

func TestStartConnectsEnabledProfiles(t *testing.T) {
	h := open(t, false, tunnel("a", true), tunnel("b", false))
	require.NoError(t, h.d.Start(context.Background()))
	h.clk.Advance(0)
	assert.Len(t, h.sp.Live("a"), 1)
	assert.Empty(t, h.sp.Live("b"))

	h.clk.Advance(2 * time.Second)
	assert.Equal(t, []notify.Variant{notify.Connected}, h.seen.variants())

	snap := h.d.Supervisor().Status()
	assert.Equal(t, 1, snap.Connected)
	assert.Equal(t, 1, snap.Total)
}

func TestReloadAppliesFileChanges(t *testing.T) {
	h := open(t, false, tunnel("a", true))
	require.NoError(t, h.d.Start(context.Background()))
	h.clk.Advance(0)
	require.Len(t, h.sp.Live("a"), 1)

	anon := tunnel("", false)
	writeProfiles(t, h.path, tunnel("b", true), anon)
	require.NoError(t, h.d.Reload(context.Background()))

	assert.Empty(t, h.sp.Live("a"))
	assert.Len(t, h.sp.Live("b"), 1)
	ps := h.d.Supervisor().ListProfiles()
	require.Len(t, ps, 2)
	assert.Equal(t, "b", ps[0].ID)
	assert.NotEmpty(t, ps[1].ID)
}

func TestReloadKeepsLocalChanges(t *testing.T) {
	h := open(t, false, tunnel("b", false))
	require.NoError(t, h.d.Start(context.Background()))

	ok, err := h.d.Supervisor().UpdateProfile(tunnel("b", true))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, h.sp.Live("b"), 1)

	// The file holds either the loaded list or the daemon's own save; neither
	// may undo the update.
	require.NoError(t, h.d.Reload(context.Background()))
	p, _ := h.d.Supervisor().GetProfile("b")
	assert.True(t, p.Enabled)
	assert.Len(t, h.sp.Live("b"), 1)

	require.NoError(t, h.d.Close())
	b, err := os.ReadFile(h.path)
	require.NoError(t, err)
	var onDisk struct {
		Profiles []Profile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(b, &onDisk))
	require.Len(t, onDisk.Profiles, 1)
	assert.True(t, onDisk.Profiles[0].Enabled)
}

func TestWatchReloadsOnEdit(t *testing.T) {
	h := open(t, true)
	require.NoError(t, h.d.Start(context.Background()))

	writeProfiles(t, h.path, tunnel("x", true))
	require.Eventually(t, func() bool {
		return len(h.sp.Live("x")) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHandlerServesAPI(t *testing.T) {
	h := open(t, false, tunnel("a", false))
	srv := httptest.NewServer(h.d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/profiles")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ps []Profile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ps))
	require.Len(t, ps, 1)
	assert.Equal(t, "a", ps[0].ID)
}

func TestCloseDisconnects(t *testing.T) {
	h := open(t, false, tunnel("a", true))
	require.NoError(t, h.d.Start(context.Background()))
	h.clk.Advance(0)
	require.Len(t, h.sp.Live("a"), 1)

	require.NoError(t, h.d.Close())
	assert.Empty(t, h.sp.Live("a"))
	assert.Error(t, h.d.Start(context.Background()))
}
