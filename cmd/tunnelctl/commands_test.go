package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/tunnelctl/internal/clock"
	"github.com/loykin/tunnelctl/internal/process/processtest"
	"github.com/loykin/tunnelctl/internal/registry"
	"github.com/loykin/tunnelctl/internal/server"
	"github.com/loykin/tunnelctl/internal/supervisor"
	"github.com/loykin/tunnelctl/pkg/client"
)

type daemon struct {
	url string
	sp  *processtest.Spawner
	sup *supervisor.Supervisor
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	sp := processtest.New()
	sup := supervisor.New(registry.New(nil, lg), supervisor.Options{
		Spawner:      sp,
		Clock:        clock.NewFake(time.Unix(0, 0)),
		Logger:       lg,
		PollInterval: time.Hour,
	})
	srv := httptest.NewServer(server.NewRouter(sup, "/api").Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = sup.Close()
	})
	return &daemon{url: srv.URL + "/api", sp: sp, sup: sup}
}

// execute runs the CLI with args and returns what the command printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "add", "enable", "status"} {
		assert.Contains(t, out, name)
	}
}

func TestAddEnableStatus(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()
	cl := client.New(client.Config{BaseURL: d.url})
	c := command{out: io.Discard}

	require.NoError(t, c.Add(ctx, cl, AddFlags{
		Name: "db", Command: "ssh -N -L 5432:localhost:5432 db",
		KeepAlive: true, AutoReconnect: true, MaxReconnectAttempts: 3,
	}))
	ps := d.sup.ListProfiles()
	require.Len(t, ps, 1)
	id := ps[0].ID
	assert.Equal(t, 3, ps[0].MaxReconnectAttempts)

	require.NoError(t, c.SetEnabled(ctx, cl, id, true))
	assert.Len(t, d.sp.Live(id), 1)
	require.NoError(t, c.SetEnabled(ctx, cl, id, true))
	assert.Len(t, d.sp.Live(id), 1)

	var buf bytes.Buffer
	c.out = &buf
	require.NoError(t, c.Status(ctx, cl, StatusFlags{}))
	assert.Contains(t, buf.String(), "1/1 connected")
	assert.Contains(t, buf.String(), id)

	require.NoError(t, c.SetEnabled(ctx, cl, id, false))
	assert.Empty(t, d.sp.Live(id))
}

func TestUpdateOnlyChangesGivenFields(t *testing.T) {
	d := startDaemon(t)
	ctx := context.Background()
	cl := client.New(client.Config{BaseURL: d.url})
	c := command{out: io.Discard}

	p, err := cl.AddProfile(ctx, client.Draft{Name: "web", Command: "ssh -N -L 8080:localhost:80 web"})
	require.NoError(t, err)

	name := "renamed"
	require.NoError(t, c.Update(ctx, cl, p.ID, UpdateFlags{Name: &name}))
	got, ok := d.sup.GetProfile(p.ID)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, p.Command, got.Command)
	assert.Equal(t, p.MaxReconnectAttempts, got.MaxReconnectAttempts)
}

func TestCLIAgainstDaemon(t *testing.T) {
	d := startDaemon(t)

	out, err := execute(t, "add", "--api-url", d.url, "--name", "db", "--command", "ssh -N db")
	require.NoError(t, err, out)
	ps := d.sup.ListProfiles()
	require.Len(t, ps, 1)
	id := ps[0].ID

	out, err = execute(t, "list", "--api-url", d.url)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "ssh -N db")

	_, err = execute(t, "toggle", id, "--api-url", d.url)
	require.NoError(t, err)
	assert.Len(t, d.sp.Live(id), 1)

	out, err = execute(t, "stats", id, "--api-url", d.url)
	require.NoError(t, err)
	assert.Contains(t, out, `"pid"`)

	_, err = execute(t, "disconnect", id, "--api-url", d.url)
	require.NoError(t, err)
	assert.Empty(t, d.sp.Live(id))

	_, err = execute(t, "delete", id, "--api-url", d.url)
	require.NoError(t, err)
	assert.Empty(t, d.sup.ListProfiles())

	_, err = execute(t, "show", id, "--api-url", d.url)
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
}

func TestUnreachableDaemon(t *testing.T) {
	_, err := execute(t, "list", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "200ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestAPIClientFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunnelctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
dsn = "`+filepath.Join(dir, "profiles.json")+`"

[server]
listen = "0.0.0.0:9191"
base_path = "/v1"
`), 0o600))

	cl, err := apiClient(&APIFlags{Global: &GlobalFlags{ConfigPath: path}})
	require.NoError(t, err)
	require.NotNil(t, cl)
	assert.Equal(t, "http://127.0.0.1:9191/v1", baseURLFor("0.0.0.0:9191", "/v1"))
	assert.Equal(t, "http://[::1]:7070/api", baseURLFor("[::1]:7070", "/api"))
	assert.Equal(t, client.DefaultBaseURL, baseURLFor("garbage", "/api"))
}

func TestPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunnelctl.pid")
	require.NoError(t, writePidFile(path, 4242))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "4242", strings.TrimSpace(string(b)))
	require.NoError(t, removePidFile(path))
	require.NoError(t, removePidFile(""))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
