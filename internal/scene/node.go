package scene

import (
	"fmt"
	"sort"
	"sync"
)

// ChildrenChange describes one mutation of a node's child list.
type ChildrenChange struct {
	Parent  *Node
	Added   []*Node
	Removed []*Node
}

// Subscription cancels a listener registration.
type Subscription func()

// Cancel removes the listener. It is safe to call more than once.
func (s Subscription) Cancel() {
	if s != nil {
		s()
	}
}

// Node is one element of a scene graph. Structure may be read from any
// goroutine; displayed nodes are only mutated on their scene's Thread.
type Node struct {
	typ  ElementType
	args map[string]any

	mu        sync.Mutex
	id        string
	classes   []string
	props     map[string]any
	parent    *Node
	children  []*Node
	scene     *Scene
	listeners map[int]func(ChildrenChange)
	nextSub   int
}

// NewNode creates a detached node of typ. args are the construction
// arguments, kept so the node can be instantiated again from a newer
// definition of typ.
func NewNode(typ ElementType, args map[string]any) *Node {
	n := &Node{
		typ:   typ,
		args:  copyMap(args),
		props: make(map[string]any),
	}
	if id, ok := args["id"].(string); ok {
		n.id = id
	}
	switch class := args["class"].(type) {
	case string:
		n.classes = splitClasses(class)
	case []string:
		n.classes = append(n.classes, class...)
	}
	return n
}

// Type returns the element type the node was built from.
func (n *Node) Type() ElementType {
	return n.typ
}

// TypeName returns the qualified name of the node's type.
func (n *Node) TypeName() string {
	if n.typ == nil {
		return ""
	}
	return n.typ.QualifiedName()
}

// Args returns a copy of the construction arguments.
func (n *Node) Args() map[string]any {
	return copyMap(n.args)
}

func (n *Node) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

func (n *Node) SetID(id string) {
	n.mu.Lock()
	n.id = id
	n.mu.Unlock()
	n.changed()
}

// StyleClasses returns the node's style classes in insertion order.
func (n *Node) StyleClasses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.classes...)
}

func (n *Node) AddStyleClass(class string) {
	n.mu.Lock()
	for _, c := range n.classes {
		if c == class {
			n.mu.Unlock()
			return
		}
	}
	n.classes = append(n.classes, class)
	n.mu.Unlock()
	n.changed()
}

func (n *Node) Prop(key string) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.props[key]
	return v, ok
}

func (n *Node) SetProp(key string, value any) {
	n.mu.Lock()
	n.props[key] = value
	n.mu.Unlock()
	n.changed()
}

// Props returns a copy of the node's properties.
func (n *Node) Props() map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return copyMap(n.props)
}

// Parent returns the structural parent, or nil.
func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// Children returns a snapshot of the direct children.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// IndexOf returns the position of child, or -1.
func (n *Node) IndexOf(child *Node) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.indexOf(child)
}

func (n *Node) indexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// Scene returns the scene displaying this node, or nil.
func (n *Node) Scene() *Scene {
	root := n
	for p := root.Parent(); p != nil; p = p.Parent() {
		root = p
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.scene
}

// Thread returns the UI thread owning this node, or nil when it is not displayed.
func (n *Node) Thread() *Thread {
	if s := n.Scene(); s != nil {
		return s.Thread()
	}
	return nil
}

// AddChild appends child, detaching it from any previous parent.
func (n *Node) AddChild(child *Node) error {
	if child == nil || child == n {
		return fmt.Errorf("%w: invalid child", ErrStructure)
	}
	if old := child.Parent(); old != nil {
		old.RemoveChild(child)
	}
	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
	child.setParent(n)
	n.childrenChanged(ChildrenChange{Parent: n, Added: []*Node{child}})
	return nil
}

// RemoveChild removes child and reports whether it was present.
func (n *Node) RemoveChild(child *Node) bool {
	n.mu.Lock()
	i := n.indexOf(child)
	if i < 0 {
		n.mu.Unlock()
		return false
	}
	n.children = append(n.children[:i:i], n.children[i+1:]...)
	n.mu.Unlock()
	child.setParent(nil)
	n.childrenChanged(ChildrenChange{Parent: n, Removed: []*Node{child}})
	return true
}

// ReplaceChild puts replacement at old's position.
func (n *Node) ReplaceChild(old, replacement *Node) error {
	if old == nil || replacement == nil {
		return fmt.Errorf("%w: missing node", ErrStructure)
	}
	if prev := replacement.Parent(); prev != nil && prev != n {
		prev.RemoveChild(replacement)
	}
	n.mu.Lock()
	i := n.indexOf(old)
	if i < 0 {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s is not a child of %s", ErrStructure, old.TypeName(), n.TypeName())
	}
	n.children[i] = replacement
	n.mu.Unlock()
	old.setParent(nil)
	replacement.setParent(n)
	n.childrenChanged(ChildrenChange{Parent: n, Added: []*Node{replacement}, Removed: []*Node{old}})
	return nil
}

// OnChildrenChanged calls fn after every mutation of the child list.
func (n *Node) OnChildrenChanged(fn func(ChildrenChange)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = make(map[int]func(ChildrenChange))
	}
	id := n.nextSub
	n.nextSub++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *Node) setParent(p *Node) {
	n.mu.Lock()
	n.parent = p
	n.mu.Unlock()
}

func (n *Node) setScene(s *Scene) {
	n.mu.Lock()
	n.scene = s
	n.mu.Unlock()
}

func (n *Node) childrenChanged(change ChildrenChange) {
	n.mu.Lock()
	keys := make([]int, 0, len(n.listeners))
	for k := range n.listeners {
		keys = append(keys, k)
	}
	n.mu.Unlock()
	sort.Ints(keys)
	for _, k := range keys {
		n.mu.Lock()
		fn, ok := n.listeners[k]
		n.mu.Unlock()
		if ok {
			fn(change)
		}
	}
	n.changed()
}

func (n *Node) changed() {
	if s := n.Scene(); s != nil {
		s.changed()
	}
}

// Walk visits n and its descendants depth first until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children() {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the first node under n with the given id.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if c.ID() == id {
			found = c
			return false
		}
		return true
	})
	return found
}
