package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/hotswap"
	"github.com/zot/hotswap/internal/scene"
)

type fixture struct {
	svc    *hotswap.Service
	scene  *scene.Scene
	thread *scene.Thread
	srv    *Server
	assets string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	assets := t.TempDir()

	svc := hotswap.NewService(cfg, scene.NewCatalog(), nil)
	th := scene.NewThread()
	t.Cleanup(th.Stop)
	sc := scene.New("main", th)

	root, err := scene.Box.New(map[string]any{"id": "main-view", "class": "weather"})
	require.NoError(t, err)
	label, err := scene.Label.New(map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.NoError(t, root.AddChild(label))
	sc.SetRoot(root)
	_, err = svc.RegisterNode(root)
	require.NoError(t, err)

	srv := New(cfg, svc, sc, assets, "style.css")
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return &fixture{svc: svc, scene: sc, thread: th, srv: srv, assets: assets}
}

func (f *fixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w.Result()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "WebSocket")
}

func TestListComponents(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/api/components")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	infos := decode[[]hotswap.ComponentInfo](t, resp)
	require.Len(t, infos, 1)
	assert.Equal(t, "main-view", infos[0].ID)
	assert.Equal(t, scene.BoxType, infos[0].Type)
	assert.Equal(t, "Idle", infos[0].State)
}

func TestGetComponent(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/api/components/main-view")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "main-view", decode[hotswap.ComponentInfo](t, resp).ID)

	resp = f.do(t, "GET", "/api/components/nope")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "nope")
}

func TestReloadComponent(t *testing.T) {
	f := newFixture(t)
	old := f.scene.Root()

	resp := f.do(t, "POST", "/api/components/main-view/reload")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[hotswap.ComponentInfo](t, resp).Reloads)

	f.thread.Flush()
	assert.NotSame(t, old, f.scene.Root())
	assert.Equal(t, "main-view", f.scene.Root().ID())
}

func TestReloadUnknownComponent(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/components/ghost/reload")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "ghost")

	resp = f.do(t, "GET", "/api/components/main-view/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSceneSnapshot(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "GET", "/api/scene")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decode[scene.NodeSnapshot](t, resp)
	assert.Equal(t, "main-view", snap.ID)
	require.Len(t, snap.Children, 1)
	assert.Equal(t, "hello", snap.Children[0].Props["text"])
}

func TestEmptyScene(t *testing.T) {
	f := newFixture(t)
	f.scene.SetRoot(nil)
	resp := f.do(t, "GET", "/api/scene")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssets(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.assets, "style.css"), []byte(".city { color: red; }"), 0644))

	resp := f.do(t, "GET", "/assets/style.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, ".city { color: red; }", string(body))

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/assets/missing.css").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/assets/").StatusCode)
}

func TestAssetsStayInsideRoot(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	if err := os.Symlink(outside, filepath.Join(f.assets, "leak.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Dir(outside), filepath.Join(f.assets, "up")))

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/assets/leak.txt").StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/assets/up/secret.txt").StatusCode)

	require.NoError(t, os.MkdirAll(filepath.Join(f.assets, "apps"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.assets, "apps", "real.css"), []byte("a{}"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(f.assets, "apps", "real.css"), filepath.Join(f.assets, "alias.css")))
	resp := f.do(t, "GET", "/assets/alias.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "a{}", string(body))

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/assets/apps").StatusCode)
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	assert.Equal(t, "scene", first.Type)
	require.NotNil(t, first.Scene)
	assert.Equal(t, "main-view", first.Scene.ID)
	assert.Equal(t, "/assets/style.css", first.Stylesheet)
	require.Eventually(t, func() bool { return f.srv.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.svc.Reload("main-view"))
	f.thread.Flush()

	next := read()
	assert.Greater(t, next.Seq, first.Seq)
	require.Len(t, next.Components, 1)
	assert.Equal(t, 1, next.Components[0].Reloads)
}

func TestShutdownDisconnectsViewers(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.srv.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.srv.Shutdown(t.Context()))
	assert.Equal(t, 0, f.srv.Hub().Count())
}

func TestStartPicksPort(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	cfg.Server.Port = 0
	th := scene.NewThread()
	defer th.Stop()

	srv := New(cfg, hotswap.NewService(cfg, nil, nil), scene.New("main", th), "", "")
	url, err := srv.Start()
	require.NoError(t, err)
	defer srv.Shutdown(t.Context())

	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:"))
	resp, err := http.Get(url + "/api/components")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
