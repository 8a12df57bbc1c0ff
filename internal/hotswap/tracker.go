package hotswap

import (
	"sort"
	"sync"

	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/scene"
	"github.com/zot/hotswap/internal/typeid"
)

// ChildSet holds the type identities of a node's direct children.
type ChildSet map[typeid.Key]struct{}

// Contains reports whether id is in the set.
func (s ChildSet) Contains(id typeid.Identity) bool {
	_, ok := s[id.Key()]
	return ok
}

// Names returns the qualified names in the set, sorted.
func (s ChildSet) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// TrackingStrategy decides whether a redefined type affects a component
// whose direct children have the given types.
type TrackingStrategy func(id typeid.Identity, children ChildSet) bool

// MembershipStrategy reloads when id is the type of a direct child.
func MembershipStrategy(id typeid.Identity, children ChildSet) bool {
	return children.Contains(id)
}

type reloader interface {
	Reload(id string) error
}

// ChildrenTracker is an OnType observer that reloads its component when one
// of the component's direct child types is redefined.
type ChildrenTracker struct {
	config    *config.Config
	component *Component
	reloader  reloader
	strategy  TrackingStrategy

	mu       sync.Mutex
	observed *scene.Node
	sub      scene.Subscription
	children ChildSet
	disposed bool
}

func newChildrenTracker(cfg *config.Config, c *Component, live *scene.Node, r reloader, strategy TrackingStrategy) *ChildrenTracker {
	if strategy == nil {
		strategy = MembershipStrategy
	}
	t := &ChildrenTracker{
		config:    cfg,
		component: c,
		reloader:  r,
		strategy:  strategy,
		children:  make(ChildSet),
	}
	t.mu.Lock()
	t.observe(live)
	t.mu.Unlock()
	return t
}

// OnEvent implements hook.Hook[typeid.Identity].
func (t *ChildrenTracker) OnEvent(id typeid.Identity) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	if len(t.children) == 0 {
		t.recompute()
	}
	children := make(ChildSet, len(t.children))
	for k := range t.children {
		children[k] = struct{}{}
	}
	t.mu.Unlock()

	if !t.strategy(id, children) {
		return nil
	}
	t.config.Log(2, "Tracker: child type %s of %s changed, reloading", id, t.component.ID())
	return t.reloader.Reload(t.component.ID())
}

// Update moves the tracker from the old instance to its replacement.
func (t *ChildrenTracker) Update(old, replacement *scene.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	t.observe(replacement)
}

// Dispose detaches the tracker. It ignores every later event.
func (t *ChildrenTracker) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sub.Cancel()
	t.sub = nil
	t.observed = nil
	t.children = make(ChildSet)
	t.disposed = true
}

// Children returns a copy of the cached child types.
func (t *ChildrenTracker) Children() ChildSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(ChildSet, len(t.children))
	for k := range t.children {
		out[k] = struct{}{}
	}
	return out
}

// observe subscribes to n's child list. Caller holds t.mu.
func (t *ChildrenTracker) observe(n *scene.Node) {
	t.sub.Cancel()
	t.sub = nil
	t.observed = n
	if n != nil {
		t.sub = n.OnChildrenChanged(func(scene.ChildrenChange) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if !t.disposed && t.observed == n {
				t.recompute()
			}
		})
	}
	t.recompute()
}

// recompute rebuilds the child type cache. Caller holds t.mu.
func (t *ChildrenTracker) recompute() {
	children := make(ChildSet)
	if t.observed != nil {
		for _, c := range t.observed.Children() {
			if id, err := typeid.Wrap(c.Type()); err == nil {
				children[id.Key()] = struct{}{}
			}
		}
	}
	t.children = children
}
