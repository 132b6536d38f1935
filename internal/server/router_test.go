package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/tunnelctl/internal/clock"
	"github.com/loykin/tunnelctl/internal/process/processtest"
	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/registry"
	"github.com/loykin/tunnelctl/internal/status"
	"github.com/loykin/tunnelctl/internal/supervisor"
)

type fixture struct {
	h   http.Handler
	sup *supervisor.Supervisor
	sp  *processtest.Spawner
	clk *clock.Fake
}

func setupRouter(t *testing.T, base string, profiles ...profile.Profile) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(nil, lg)
	for _, p := range profiles {
		reg.Put(p)
	}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	sp := processtest.New()
	sup := supervisor.New(reg, supervisor.Options{Spawner: sp, Clock: clk, Logger: lg, PollInterval: time.Hour})
	t.Cleanup(func() { _ = sup.Close() })
	r := NewRouter(sup, base, WithLogger(lg), WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})))
	return &fixture{h: r.Handler(), sup: sup, sp: sp, clk: clk}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sample(id string) profile.Profile {
	return profile.Profile{
		ID:                   id,
		Name:                 id,
		Command:              "ssh -N -L 5432:localhost:5432 db",
		Enabled:              true,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
	}
}

func TestAddAndListProfiles(t *testing.T) {
	f := setupRouter(t, "/api")
	rec := doReq(t, f.h, http.MethodPost, "/api/profiles", profile.Draft{Name: "db", Command: "ssh -N db"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created profile.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Enabled)
	assert.Equal(t, profile.DefaultKeepAliveInterval, created.KeepAliveInterval)

	rec = doReq(t, f.h, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []profile.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created, list[0])

	rec = doReq(t, f.h, http.MethodGet, "/api/profiles/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddRejectsBadBody(t *testing.T) {
	f := setupRouter(t, "")
	req := httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = doReq(t, f.h, http.MethodPost, "/profiles", profile.Draft{MaxReconnectAttempts: -1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUnknownProfileIs404(t *testing.T) {
	f := setupRouter(t, "")
	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/profiles/nope"},
		{http.MethodDelete, "/profiles/nope"},
		{http.MethodPost, "/profiles/nope/toggle"},
		{http.MethodPost, "/profiles/nope/connect"},
		{http.MethodPost, "/profiles/nope/disconnect"},
		{http.MethodGet, "/profiles/nope/process"},
	} {
		rec := doReq(t, f.h, c.method, c.path, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", c.method, c.path, rec.Code)
		}
	}
	rec := doReq(t, f.h, http.MethodPut, "/profiles/nope", sample("nope"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInvalidIDIs400(t *testing.T) {
	f := setupRouter(t, "")
	rec := doReq(t, f.h, http.MethodPost, "/profiles/a..b/toggle", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestToggleConnectsAndDisconnects(t *testing.T) {
	f := setupRouter(t, "/api", sample("db"))

	rec := doReq(t, f.h, http.MethodPost, "/api/profiles/db/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.sp.Live("db"), 1)

	rec = doReq(t, f.h, http.MethodGet, "/api/profiles/db/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pid"`)

	rec = doReq(t, f.h, http.MethodPost, "/api/profiles/db/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.sp.Live("db"))
}

func TestConnectConflict(t *testing.T) {
	f := setupRouter(t, "", sample("db"))
	require.Equal(t, http.StatusOK, doReq(t, f.h, http.MethodPost, "/profiles/db/connect", nil).Code)
	assert.Equal(t, http.StatusConflict, doReq(t, f.h, http.MethodPost, "/profiles/db/connect", nil).Code)
	assert.Equal(t, http.StatusOK, doReq(t, f.h, http.MethodPost, "/profiles/db/disconnect", nil).Code)
}

func TestUpdateEnablesProfile(t *testing.T) {
	p := sample("db")
	p.Enabled = false
	f := setupRouter(t, "", p)

	p.Enabled = true
	p.ID = ""
	rec := doReq(t, f.h, http.MethodPut, "/profiles/db", p)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, f.sp.Live("db"), 1)

	p.ID = "other"
	rec = doReq(t, f.h, http.MethodPut, "/profiles/db", p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteProfile(t *testing.T) {
	f := setupRouter(t, "", sample("db"))
	require.Equal(t, http.StatusOK, doReq(t, f.h, http.MethodDelete, "/profiles/db", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, f.h, http.MethodGet, "/profiles/db", nil).Code)
}

func TestStatusEndpoint(t *testing.T) {
	off := sample("off")
	off.Enabled = false
	f := setupRouter(t, "/api", sample("a"), sample("b"), off)
	doReq(t, f.h, http.MethodPost, "/api/profiles/a/connect", nil)

	rec := doReq(t, f.h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Connected)
	assert.Equal(t, 2, snap.Total)
}

func TestMetricsMounted(t *testing.T) {
	f := setupRouter(t, "/api")
	rec := doReq(t, f.h, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

func TestStatusStream(t *testing.T) {
	f := setupRouter(t, "", sample("db"))
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	sc := bufio.NewScanner(resp.Body)
	next := func() status.Snapshot {
		for sc.Scan() {
			line := sc.Text()
			if data, ok := strings.CutPrefix(line, "data:"); ok {
				var s status.Snapshot
				require.NoError(t, json.Unmarshal([]byte(data), &s))
				return s
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return status.Snapshot{}
	}

	first := next()
	assert.Equal(t, 0, first.Connected)
	assert.Equal(t, 1, first.Total)

	_, err = f.sup.Connect("db")
	require.NoError(t, err)
	second := next()
	assert.Equal(t, 1, second.Connected)
}
