// Package scene is a small retained-mode scene graph: element types, nodes,
// scenes, and the single UI thread that owns displayed nodes.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zot/hotswap/internal/typeid"
)

var (
	// ErrStructure is returned for impossible tree edits.
	ErrStructure = errors.New("scene: invalid structure change")
	// ErrThreadStopped is returned by Sync after the thread was stopped.
	ErrThreadStopped = errors.New("scene: ui thread stopped")
	// ErrUnknownType is returned when the catalog has no element type of a name.
	ErrUnknownType = errors.New("scene: unknown element type")
)

// ElementType is a type handle that can build nodes.
type ElementType interface {
	typeid.Handle
	New(args map[string]any) (*Node, error)
}

// IsElementType reports whether h can build nodes.
func IsElementType(h typeid.Handle) bool {
	_, ok := h.(ElementType)
	return ok
}

// Scene displays a tree of nodes. All mutation of a displayed tree happens on
// the scene's Thread.
type Scene struct {
	name   string
	thread *Thread

	mu        sync.Mutex
	root      *Node
	listeners map[int]func()
	nextSub   int
}

// New creates an empty scene owned by thread.
func New(name string, thread *Thread) *Scene {
	return &Scene{name: name, thread: thread, listeners: make(map[int]func())}
}

func (s *Scene) Name() string { return s.name }

func (s *Scene) Thread() *Thread { return s.thread }

func (s *Scene) Root() *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// SetRoot displays root in place of the current root.
func (s *Scene) SetRoot(root *Node) {
	s.mu.Lock()
	old := s.root
	s.root = root
	s.mu.Unlock()
	if old != nil && old != root {
		old.setScene(nil)
	}
	if root != nil {
		if p := root.Parent(); p != nil {
			p.RemoveChild(root)
		}
		root.setScene(s)
	}
	s.changed()
}

// OnChange calls fn after any change to the displayed tree.
func (s *Scene) OnChange(fn func()) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Scene) changed() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// NodeSnapshot is the JSON form of a subtree.
type NodeSnapshot struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Classes  []string       `json:"classes,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Children []NodeSnapshot `json:"children,omitempty"`
}

// Snapshot captures n and its descendants.
func Snapshot(n *Node) NodeSnapshot {
	snap := NodeSnapshot{
		Type:    n.TypeName(),
		ID:      n.ID(),
		Classes: n.StyleClasses(),
	}
	if props := n.Props(); len(props) > 0 {
		snap.Props = props
	}
	for _, c := range n.Children() {
		snap.Children = append(snap.Children, Snapshot(c))
	}
	return snap
}

// Snapshot captures the displayed tree. It reports false for an empty scene.
func (s *Scene) Snapshot() (NodeSnapshot, bool) {
	root := s.Root()
	if root == nil {
		return NodeSnapshot{}, false
	}
	return Snapshot(root), true
}

// Catalog maps qualified names to the most recent definition of each element type.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]ElementType
}

// NewCatalog returns a catalog holding the built-in element types.
func NewCatalog() *Catalog {
	c := &Catalog{types: make(map[string]ElementType)}
	for _, t := range Builtins() {
		c.Publish(t)
	}
	return c
}

// Publish makes t the current definition of its name.
func (c *Catalog) Publish(t ElementType) {
	c.mu.Lock()
	c.types[t.QualifiedName()] = t
	c.mu.Unlock()
}

func (c *Catalog) Lookup(name string) (ElementType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// Names returns the published names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Instantiate builds a node from the current definition of name.
func (c *Catalog) Instantiate(name string, args map[string]any) (*Node, error) {
	t, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t.New(args)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func splitClasses(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}
