package hotswap

import (
	"fmt"
	"sync"

	"github.com/zot/hotswap/internal/hook"
	"github.com/zot/hotswap/internal/scene"
)

// Instantiator builds the replacement for the live instance.
type Instantiator func(old *scene.Node) (*scene.Node, error)

// StateTransfer copies state from the old instance to its replacement.
type StateTransfer func(old, replacement *scene.Node) error

// SwapIn puts the replacement where the old instance is displayed.
type SwapIn func(old, replacement *scene.Node) error

// State is the reload step a component is in.
type State int

const (
	Idle State = iota
	Instantiating
	TransferringState
	Swapping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Instantiating:
		return "Instantiating"
	case TransferringState:
		return "StateTransfer"
	case Swapping:
		return "Swapping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type logFunc func(level int, format string, args ...interface{})

func noLog(int, string, ...interface{}) {}

// Component is one registered live instance and the strategies used to
// replace it. Components are equal when their ids are.
type Component struct {
	id string

	// held for a whole reload so reloads of one component never overlap
	reloadMu sync.Mutex

	mu            sync.Mutex
	live          *scene.Node
	instantiate   Instantiator
	transferState StateTransfer
	swapIn        SwapIn
	monitor       bool
	strategy      TrackingStrategy
	tracker       *ChildrenTracker
	state         State
	lastErr       error
	reloads       int
	pending       *pendingSwap

	// set while registered
	service *Service
	catalog *scene.Catalog
	log     logFunc
}

// pendingSwap is a replacement whose tree edit is queued on a ui thread
// but has not run yet. Until it runs the node has no parent and no scene.
type pendingSwap struct {
	node   *scene.Node
	thread *scene.Thread
}

// NewComponent wraps live under id.
func NewComponent(id string, live *scene.Node) *Component {
	return &Component{id: id, live: live, log: noLog}
}

func (c *Component) ID() string { return c.id }

// Equal reports whether both components have the same id.
func (c *Component) Equal(other *Component) bool {
	return other != nil && c.id == other.id
}

// Live returns the current live instance.
func (c *Component) Live() *scene.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error of the most recent failed reload, or nil after a success.
func (c *Component) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reloads returns the number of successful reloads.
func (c *Component) Reloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

// Tracker returns the children tracker, or nil when children are not monitored
// or the component is not registered.
func (c *Component) Tracker() *ChildrenTracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker
}

// ComponentInfo is a point-in-time description of a component.
type ComponentInfo struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	State     string   `json:"state"`
	Reloads   int      `json:"reloads"`
	LastError string   `json:"lastError,omitempty"`
	Children  []string `json:"children,omitempty"` // tracked child types
}

// Info describes c.
func (c *Component) Info() ComponentInfo {
	c.mu.Lock()
	info := ComponentInfo{
		ID:      c.id,
		State:   c.state.String(),
		Reloads: c.reloads,
	}
	live, tracker := c.live, c.tracker
	if c.lastErr != nil {
		info.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	if live != nil {
		info.Type = live.TypeName()
	}
	if tracker != nil {
		info.Children = tracker.Children().Names()
	}
	return info
}

// SetInstantiator replaces the instantiation strategy. nil restores the
// default, which builds a new node from the latest definition of the live
// instance's type with the same construction arguments.
func (c *Component) SetInstantiator(fn Instantiator) *Component {
	c.mu.Lock()
	c.instantiate = fn
	c.mu.Unlock()
	return c
}

// SetStateTransfer replaces the state transfer strategy. nil restores the no-op default.
func (c *Component) SetStateTransfer(fn StateTransfer) *Component {
	c.mu.Lock()
	c.transferState = fn
	c.mu.Unlock()
	return c
}

// SetSwapIn replaces the swap strategy. nil restores the default, which
// replaces the old instance inside its parent or as its scene's root.
func (c *Component) SetSwapIn(fn SwapIn) *Component {
	c.mu.Lock()
	c.swapIn = fn
	c.mu.Unlock()
	return c
}

// MonitorChildren reloads the component whenever the type of one of its
// direct children is redefined and strategy agrees. nil selects MembershipStrategy.
func (c *Component) MonitorChildren(strategy TrackingStrategy) *Component {
	if strategy == nil {
		strategy = MembershipStrategy
	}
	c.mu.Lock()
	c.monitor = true
	c.strategy = strategy
	service := c.service
	c.mu.Unlock()
	if service != nil {
		c.attachTracker(service)
	}
	return c
}

// StopMonitoringChildren detaches the children tracker.
func (c *Component) StopMonitoringChildren() *Component {
	c.mu.Lock()
	c.monitor = false
	c.strategy = nil
	c.mu.Unlock()
	c.detachTracker()
	return c
}

// Reload replaces the live instance: instantiate, transfer state, swap,
// then commit. On failure the live instance is left untouched.
func (c *Component) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	c.mu.Lock()
	old := c.live
	instantiate := c.instantiate
	transferState := c.transferState
	swapIn := c.swapIn
	c.mu.Unlock()

	if instantiate == nil {
		instantiate = c.instantiateLatest
	}
	if swapIn == nil {
		swapIn = c.replaceInPlace
	}

	c.setState(Instantiating)
	var replacement *scene.Node
	err := guard(func() (err error) {
		replacement, err = instantiate(old)
		return err
	})
	if err == nil && (replacement == nil || replacement == old) {
		err = fmt.Errorf("%w: instantiator returned no new instance", ErrIllegalState)
	}
	if err != nil {
		return c.fail(fmt.Errorf("instantiate %s: %w", c.id, err))
	}

	if transferState != nil {
		c.setState(TransferringState)
		if err := guard(func() error { return transferState(old, replacement) }); err != nil {
			return c.fail(fmt.Errorf("transfer state %s: %w", c.id, err))
		}
	}

	c.setState(Swapping)
	if err := guard(func() error { return swapIn(old, replacement) }); err != nil {
		return c.fail(fmt.Errorf("swap %s: %w", c.id, err))
	}

	c.mu.Lock()
	c.live = replacement
	c.reloads++
	c.state = Idle
	c.lastErr = nil
	tracker := c.tracker
	c.mu.Unlock()

	if tracker != nil {
		tracker.Update(old, replacement)
	}
	return nil
}

func (c *Component) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Component) fail(err error) error {
	c.mu.Lock()
	c.state = Idle
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// instantiateLatest is the default Instantiator.
func (c *Component) instantiateLatest(old *scene.Node) (*scene.Node, error) {
	if old == nil {
		return nil, fmt.Errorf("%w: missing instance", ErrIllegalState)
	}
	name := old.TypeName()
	typ := old.Type()
	c.mu.Lock()
	catalog := c.catalog
	c.mu.Unlock()
	if catalog != nil {
		if latest, ok := catalog.Lookup(name); ok {
			typ = latest
		}
	}
	if typ == nil {
		return nil, fmt.Errorf("%w: %s has no element type", ErrIllegalState, c.id)
	}
	n, err := typ.New(old.Args())
	if err != nil {
		return nil, err
	}
	if n != nil && n.TypeName() != name {
		return nil, fmt.Errorf("%w: built %s, want %s", ErrIllegalState, n.TypeName(), name)
	}
	return n, nil
}

// replaceInPlace is the default SwapIn. The tree edit runs on the UI thread
// of the scene displaying old; nodes outside any scene are edited directly.
// When old is a replacement whose own edit is still queued, the new edit is
// queued behind it and finds its target once that edit has run.
func (c *Component) replaceInPlace(old, replacement *scene.Node) error {
	if old == nil || replacement == nil {
		return fmt.Errorf("%w: missing instance", ErrIllegalState)
	}
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending != nil && pending.node == old && old.Parent() == nil && old.Scene() == nil {
		return c.onUIThread(pending.thread, replacement, func() error {
			return swapAttached(old, replacement)
		})
	}

	if parent := old.Parent(); parent != nil {
		if parent.IndexOf(old) < 0 {
			return fmt.Errorf("%w: cannot locate replacement target", ErrIllegalState)
		}
		return c.onUIThread(parent.Thread(), replacement, func() error {
			return parent.ReplaceChild(old, replacement)
		})
	}
	if s := old.Scene(); s != nil && s.Root() == old {
		return c.onUIThread(s.Thread(), replacement, func() error {
			s.SetRoot(replacement)
			return nil
		})
	}
	return fmt.Errorf("%w: cannot locate replacement target", ErrIllegalState)
}

// swapAttached replaces old wherever it is attached when the edit runs.
func swapAttached(old, replacement *scene.Node) error {
	if parent := old.Parent(); parent != nil {
		return parent.ReplaceChild(old, replacement)
	}
	if s := old.Scene(); s != nil && s.Root() == old {
		s.SetRoot(replacement)
		return nil
	}
	return fmt.Errorf("%w: cannot locate replacement target", ErrIllegalState)
}

func (c *Component) onUIThread(t *scene.Thread, replacement *scene.Node, edit func() error) error {
	if t == nil {
		return edit()
	}
	c.mu.Lock()
	log := c.log
	prev := c.pending
	c.pending = &pendingSwap{node: replacement, thread: t}
	c.mu.Unlock()

	queued := t.RunLater(func() {
		if err := edit(); err != nil {
			log(0, "HotSwap: swap of %s failed on the ui thread: %v", c.id, err)
		}
		c.clearPending(replacement)
	})
	if !queued {
		c.mu.Lock()
		c.pending = prev
		c.mu.Unlock()
		return fmt.Errorf("%w: ui thread stopped", ErrIllegalState)
	}
	return nil
}

func (c *Component) clearPending(node *scene.Node) {
	c.mu.Lock()
	if c.pending != nil && c.pending.node == node {
		c.pending = nil
	}
	c.mu.Unlock()
}

// bind attaches c to the service it was registered with.
func (c *Component) bind(s *Service) {
	c.mu.Lock()
	c.service = s
	c.catalog = s.catalog
	c.log = s.config.Log
	monitor := c.monitor
	c.mu.Unlock()
	if monitor {
		c.attachTracker(s)
	}
}

// dispose detaches c from its service.
func (c *Component) dispose() {
	c.detachTracker()
	c.mu.Lock()
	c.service = nil
	c.catalog = nil
	c.log = noLog
	c.mu.Unlock()
}

func (c *Component) attachTracker(s *Service) {
	c.mu.Lock()
	if c.tracker != nil || !c.monitor {
		c.mu.Unlock()
		return
	}
	t := newChildrenTracker(s.config, c, c.live, s, c.strategy)
	c.tracker = t
	c.mu.Unlock()
	if err := s.hooks.Register(hook.OnType, t); err != nil {
		s.config.Log(0, "HotSwap: cannot monitor children of %s: %v", c.id, err)
	}
}

func (c *Component) detachTracker() {
	c.mu.Lock()
	t := c.tracker
	c.tracker = nil
	service := c.service
	c.mu.Unlock()
	if t == nil {
		return
	}
	if service != nil {
		service.hooks.Unregister(t)
	} else {
		t.Dispose()
	}
}

// guard turns a panic in user code into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
