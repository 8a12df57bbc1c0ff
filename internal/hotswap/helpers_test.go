package hotswap

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/scene"
	"github.com/zot/hotswap/internal/typeid"
	"github.com/zot/hotswap/internal/watcher"
)

// fakeType builds nodes tagged with the definition version. Its kids are
// instantiated from the catalog, like ui.component does.
type fakeType struct {
	name    string
	version int
	kids    []string
	catalog *scene.Catalog
	fail    error
}

func (f *fakeType) QualifiedName() string { return f.name }

func (f *fakeType) New(args map[string]any) (*scene.Node, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	n := scene.NewNode(f, args)
	n.SetProp("version", f.version)
	for _, kid := range f.kids {
		c, err := f.catalog.Instantiate(kid, nil)
		if err != nil {
			return nil, err
		}
		n.AddChild(c)
	}
	return n, nil
}

// fakeDefiner hands out a new fakeType version on every call
type fakeDefiner struct {
	mu      sync.Mutex
	catalog *scene.Catalog
	calls   []string
	layout  map[string][]string
	modules map[string]bool
	fail    map[string]error
}

func (d *fakeDefiner) Define(name string, data []byte) (typeid.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
	if err := d.fail[name]; err != nil {
		return nil, err
	}
	if d.modules[name] {
		return typeid.Named(name), nil
	}
	return &fakeType{name: name, version: len(d.calls), kids: d.layout[name], catalog: d.catalog}, nil
}

func (d *fakeDefiner) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// lockedBuffer is a log sink safe for the watcher and ui goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	t       *testing.T
	cfg     *config.Config
	log     *lockedBuffer
	catalog *scene.Catalog
	definer *fakeDefiner
	svc     *Service
	root    string
	sleeps  []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.HotSwap.Roots = []string{root}
	cfg.HotSwap.ReloadDelay = 0
	cfg.Watch.Debounce = config.Duration(20 * time.Millisecond)
	cfg.Logging.Verbosity = 3
	log := &lockedBuffer{}
	cfg.SetLogOutput(log)

	catalog := scene.NewCatalog()
	definer := &fakeDefiner{
		catalog: catalog,
		layout:  map[string][]string{},
		modules: map[string]bool{},
		fail:    map[string]error{},
	}
	f := &fixture{t: t, cfg: cfg, log: log, catalog: catalog, definer: definer, root: root}
	f.svc = NewService(cfg, catalog, definer)
	f.svc.sleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	return f
}

// publish makes version 0 of name available, as Preload would.
func (f *fixture) publish(name string, kids ...string) *fakeType {
	f.definer.layout[name] = kids
	typ := &fakeType{name: name, kids: kids, catalog: f.catalog}
	f.catalog.Publish(typ)
	return typ
}

func (f *fixture) node(name string, args map[string]any) *scene.Node {
	f.t.Helper()
	n, err := f.catalog.Instantiate(name, args)
	require.NoError(f.t, err)
	return n
}

// unit writes the unit file for a qualified name and returns its path.
func (f *fixture) unit(name string) string {
	f.t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))+".lua")
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(f.t, os.WriteFile(path, []byte("return {} -- "+name), 0644))
	return path
}

func (f *fixture) event(path string, kind watcher.EventType) watcher.Event {
	return watcher.Event{Path: path, Root: f.root, Type: kind}
}

// displayed puts n at the root of a scene with its own ui thread.
func displayed(t *testing.T, n *scene.Node) (*scene.Scene, *scene.Thread) {
	t.Helper()
	th := scene.NewThread()
	t.Cleanup(th.Stop)
	s := scene.New("main", th)
	s.SetRoot(n)
	return s, th
}

func version(n *scene.Node) int {
	v, _ := n.Prop("version")
	i, _ := v.(int)
	return i
}
