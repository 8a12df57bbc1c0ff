// Package hotswap replaces live scene subtrees when the units defining them change.
//
// A Service watches the unit roots, redefines changed units, and reloads
// every registered Component whose live instance has the redefined type.
// Hooks observe each modified file (OnFile) and each redefined element
// type (OnType) before any component of that type reloads.
package hotswap

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/hook"
	"github.com/zot/hotswap/internal/redefine"
	"github.com/zot/hotswap/internal/scene"
	"github.com/zot/hotswap/internal/typeid"
	"github.com/zot/hotswap/internal/watcher"
)

// Service coordinates reloads. Create one per process with NewService.
type Service struct {
	config    *config.Config
	catalog   *scene.Catalog
	redefiner *redefine.Redefiner
	hooks     *hook.Registry

	rootsOnce   sync.Once
	rootsFunc   func() []string
	roots       []string
	attachProbe func() bool
	sleep       func(time.Duration)
	reloadDelay atomic.Int64

	mu         sync.Mutex
	byIdentity map[typeid.Key]map[string]struct{}
	byID       map[string]*Component
	keyOf      map[string]typeid.Key

	// one change event at a time
	pipelineMu sync.Mutex

	watcherMu sync.Mutex
	watcher   *watcher.Watcher
}

// NewService creates a stopped service. Element types it redefines are
// published to catalog; definer turns unit bytes into types.
func NewService(cfg *config.Config, catalog *scene.Catalog, definer redefine.Definer) *Service {
	if catalog == nil {
		catalog = scene.NewCatalog()
	}
	s := &Service{
		config:      cfg,
		catalog:     catalog,
		redefiner:   redefine.New(definer),
		hooks:       hook.NewRegistry(cfg),
		attachProbe: TracerAttached,
		sleep:       time.Sleep,
		byIdentity:  make(map[typeid.Key]map[string]struct{}),
		byID:        make(map[string]*Component),
		keyOf:       make(map[string]typeid.Key),
	}
	s.reloadDelay.Store(int64(cfg.HotSwap.ReloadDelay.Duration()))
	return s
}

// Catalog returns the catalog holding the latest element types.
func (s *Service) Catalog() *scene.Catalog { return s.catalog }

// Hooks returns the hook registry.
func (s *Service) Hooks() *hook.Registry { return s.hooks }

// Redefiner returns the redefiner used by the pipeline.
func (s *Service) Redefiner() *redefine.Redefiner { return s.redefiner }

// SetRootsFunc sets the source of the watched roots. It must be called
// before Start or Preload; roots are computed once.
func (s *Service) SetRootsFunc(fn func() []string) {
	s.rootsFunc = fn
}

// SetAttachProbe replaces the debugger check used by Start when
// hotswap.check_debugger is set.
func (s *Service) SetAttachProbe(fn func() bool) {
	s.attachProbe = fn
}

// Roots returns the watched roots, computing them on first use.
func (s *Service) Roots() []string {
	s.rootsOnce.Do(func() {
		if s.rootsFunc != nil {
			s.roots = s.rootsFunc()
		} else {
			s.roots = append([]string(nil), s.config.HotSwap.Roots...)
		}
	})
	return append([]string(nil), s.roots...)
}

// ReloadDelay returns the current stabilization delay.
func (s *Service) ReloadDelay() time.Duration {
	return time.Duration(s.reloadDelay.Load())
}

// SetReloadDelay changes the stabilization delay for subsequent changes.
func (s *Service) SetReloadDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.reloadDelay.Store(int64(d))
}

// === Registration ===

// Register files c under the type of its live instance.
func (s *Service) Register(c *Component) error {
	if c == nil {
		return fmt.Errorf("%w: nil component", ErrIllegalState)
	}
	live := c.Live()
	if live == nil {
		s.config.Log(0, "HotSwap: cannot register %s: missing instance", c.ID())
		return fmt.Errorf("%w: missing instance", ErrIllegalState)
	}
	id, err := typeid.Wrap(live.Type())
	if err != nil {
		s.config.Log(0, "HotSwap: cannot register %s: %v", c.ID(), err)
		return err
	}

	s.mu.Lock()
	if _, dup := s.byID[c.ID()]; dup {
		s.mu.Unlock()
		s.config.Log(0, "HotSwap: component id %s is already registered", c.ID())
		return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID())
	}
	s.byID[c.ID()] = c
	s.file(c.ID(), id.Key())
	s.mu.Unlock()

	c.bind(s)
	s.config.Log(2, "HotSwap: registered %s as %s", c.ID(), id)
	return nil
}

// RegisterNode registers n under an id derived from it.
func (s *Service) RegisterNode(n *scene.Node) (*Component, error) {
	return s.RegisterWithID(DeriveID(n), n)
}

// RegisterWithID registers n under id.
func (s *Service) RegisterWithID(id string, n *scene.Node) (*Component, error) {
	c := NewComponent(id, n)
	if err := s.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Unregister removes the component registered under id.
func (s *Service) Unregister(id string) error {
	s.mu.Lock()
	c, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		s.unfile(id)
	}
	s.mu.Unlock()

	if !ok {
		s.config.Log(1, "HotSwap: cannot unregister %s: not registered", id)
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	c.dispose()
	s.config.Log(2, "HotSwap: unregistered %s", id)
	return nil
}

// UnregisterComponent removes c. With full set it removes every component
// whose live instance has the same type as c's.
func (s *Service) UnregisterComponent(c *Component, full bool) error {
	if c == nil {
		return fmt.Errorf("%w: nil component", ErrIllegalState)
	}
	if !full {
		return s.Unregister(c.ID())
	}

	s.mu.Lock()
	key, ok := s.keyOf[c.ID()]
	s.mu.Unlock()
	if !ok {
		live := c.Live()
		if live == nil {
			return fmt.Errorf("%w: missing instance", ErrIllegalState)
		}
		id, err := typeid.Wrap(live.Type())
		if err != nil {
			return err
		}
		key = id.Key()
	}

	var errs []error
	for _, id := range s.idsOf(key) {
		if err := s.Unregister(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Component returns the component registered under id.
func (s *Service) Component(id string) (*Component, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	return c, ok
}

// Components returns every registered component, ordered by id.
func (s *Service) Components() []*Component {
	s.mu.Lock()
	out := make([]*Component, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns the ids filed under identity, sorted.
func (s *Service) IDs(identity typeid.Identity) []string {
	return s.idsOf(identity.Key())
}

// KeyOf returns the type key id is filed under.
func (s *Service) KeyOf(id string) (typeid.Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keyOf[id]
	return key, ok
}

// HasIdentity reports whether any id is filed under identity.
func (s *Service) HasIdentity(identity typeid.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byIdentity[identity.Key()]
	return ok
}

func (s *Service) idsOf(key typeid.Key) []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.byIdentity[key]))
	for id := range s.byIdentity[key] {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// file puts id in key's set. Caller holds s.mu.
func (s *Service) file(id string, key typeid.Key) {
	set, ok := s.byIdentity[key]
	if !ok {
		set = make(map[string]struct{})
		s.byIdentity[key] = set
	}
	set[id] = struct{}{}
	s.keyOf[id] = key
}

// unfile removes id from its set, dropping the set when it empties. Caller holds s.mu.
func (s *Service) unfile(id string) {
	key, ok := s.keyOf[id]
	if !ok {
		return
	}
	delete(s.keyOf, id)
	if set, ok := s.byIdentity[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byIdentity, key)
		}
	}
}

// refile moves id to the set of its live instance's current type.
func (s *Service) refile(c *Component) {
	live := c.Live()
	if live == nil {
		return
	}
	id, err := typeid.Wrap(live.Type())
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID[c.ID()] != c || s.keyOf[c.ID()] == id.Key() {
		return
	}
	s.unfile(c.ID())
	s.file(c.ID(), id.Key())
	s.config.Log(2, "HotSwap: %s now filed as %s", c.ID(), id)
}

// === Hooks ===

// EarlyHook observes every modified file under the roots.
func (s *Service) EarlyHook(h hook.Hook[watcher.Event]) error {
	return s.hooks.Register(hook.OnFile, h)
}

// LateHook observes every redefined element type before its components reload.
func (s *Service) LateHook(h hook.Hook[typeid.Identity]) error {
	return s.hooks.Register(hook.OnType, h)
}

// RemoveHook unregisters h from both phases.
func (s *Service) RemoveHook(h any) {
	s.hooks.Unregister(h)
}

// === Reload pipeline ===

// Reload reloads the component registered under id.
func (s *Service) Reload(id string) error {
	c, ok := s.Component(id)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownID, id)
		s.config.Log(0, "HotSwap: cannot reload: %v", err)
		return err
	}
	if err := c.Reload(); err != nil {
		s.config.Log(0, "HotSwap: reload of %s failed: %v", id, err)
		return err
	}
	s.refile(c)
	s.config.Log(2, "HotSwap: reloaded %s", id)
	return nil
}

// OnChange runs the reload pipeline for one watcher event.
func (s *Service) OnChange(ev watcher.Event) {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()

	if ev.Type != watcher.Modified {
		s.config.Log(3, "HotSwap: ignoring %s of %s", ev.Type, ev.Path)
		return
	}
	s.hooks.NotifyFile(ev)

	suffix := s.config.HotSwap.Suffix
	if !redefine.IsUnit(ev.Path, suffix) {
		return
	}
	name, err := redefine.QualifiedName(ev.Root, ev.Path, suffix)
	if err != nil {
		s.config.Log(0, "HotSwap: %v", err)
		return
	}

	identity, digest, err := s.redefiner.RedefineDigest(name, ev.Path)
	if err != nil {
		s.config.Log(0, "HotSwap: %v", err)
		return
	}
	if !scene.IsElementType(identity.Handle()) {
		s.config.Log(3, "HotSwap: %s is not an element type", name)
		return
	}
	s.config.Log(2, "HotSwap: redefined %s", name)

	identity = s.stabilize(name, ev.Path, identity, digest)
	typ, ok := identity.Handle().(scene.ElementType)
	if !ok {
		s.config.Log(3, "HotSwap: %s is no longer an element type", name)
		return
	}
	s.catalog.Publish(typ)
	s.hooks.NotifyType(identity)

	ids := s.idsOf(identity.Key())
	if len(ids) == 0 {
		s.config.Log(2, "HotSwap: no components of %s registered", name)
		return
	}
	for _, id := range ids {
		// failures are logged by Reload and do not stop the others
		s.Reload(id)
	}
}

// Preload defines every unit under the roots and publishes the element
// types, so the first scene is built from the same units later reloads use.
// It returns the number of units defined.
func (s *Service) Preload() (int, error) {
	suffix := s.config.HotSwap.Suffix
	defined := 0
	var errs []error
	for _, root := range s.Roots() {
		abs, err := filepath.Abs(root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !redefine.IsUnit(path, suffix) {
				return nil
			}
			name, err := redefine.QualifiedName(abs, path, suffix)
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			identity, err := s.redefiner.Redefine(name, path)
			if err != nil {
				s.config.Log(0, "HotSwap: preload: %v", err)
				errs = append(errs, err)
				return nil
			}
			if typ, ok := identity.Handle().(scene.ElementType); ok {
				s.catalog.Publish(typ)
			}
			defined++
			return nil
		})
		if walkErr != nil {
			errs = append(errs, fmt.Errorf("preload %s: %w", root, walkErr))
		}
	}
	s.config.Log(1, "HotSwap: preloaded %d units", defined)
	return defined, errors.Join(errs...)
}

// === Lifecycle ===

// Start begins watching the roots.
func (s *Service) Start() error {
	s.watcherMu.Lock()
	defer s.watcherMu.Unlock()

	if s.watcher != nil && s.watcher.Active() {
		s.config.Log(0, "HotSwap: already running")
		return nil
	}
	if !s.config.HotSwap.Enabled {
		s.config.Log(0, "HotSwap: disabled, set hotswap.enabled (or HOTSWAP=true) to enable")
		return ErrDisabled
	}
	if s.config.HotSwap.CheckDebugger && s.attachProbe != nil && !s.attachProbe() {
		s.config.Log(0, "HotSwap: no debugger attached, reloads may not take effect")
	}

	roots := s.Roots()
	w := watcher.New(s.config, roots)
	if !w.Active() {
		w.Stop()
		s.config.Log(0, "HotSwap: cannot watch %v, reloads are off", roots)
		return fmt.Errorf("%w: no watchable root in %v", ErrWatchFailure, roots)
	}
	w.SetOnEvent(s.OnChange)
	w.Start()
	s.watcher = w
	s.config.Log(1, "HotSwap: started")
	return nil
}

// Stop stops watching. Registrations are kept.
func (s *Service) Stop() {
	s.watcherMu.Lock()
	defer s.watcherMu.Unlock()
	if s.watcher == nil {
		return
	}
	s.watcher.Stop()
	s.watcher = nil
	s.config.Log(1, "HotSwap: stopped")
}

// Dispose stops the service and drops every registration.
func (s *Service) Dispose() {
	s.Stop()

	s.mu.Lock()
	components := make([]*Component, 0, len(s.byID))
	for _, c := range s.byID {
		components = append(components, c)
	}
	s.byID = make(map[string]*Component)
	s.byIdentity = make(map[typeid.Key]map[string]struct{})
	s.keyOf = make(map[string]typeid.Key)
	s.mu.Unlock()

	for _, c := range components {
		c.dispose()
	}
	s.config.Log(1, "HotSwap: disposed %d components", len(components))
}

// IsRunning reports whether the watcher is running.
func (s *Service) IsRunning() bool {
	s.watcherMu.Lock()
	defer s.watcherMu.Unlock()
	return s.watcher != nil && s.watcher.Active()
}
