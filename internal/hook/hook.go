// Package hook provides ordered observer sets for the two reload phases.
//
// OnFile hooks see every modified file under a watched root, before any
// filtering. OnType hooks see each redefined element type, after it has been
// stabilized and before any registered component of that type reloads.
package hook

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/typeid"
	"github.com/zot/hotswap/internal/watcher"
)

// ErrPhaseMismatch is returned when an observer's value type does not match its phase.
var ErrPhaseMismatch = errors.New("hook: observer does not accept this phase's value")

// Phase selects the point of the reload pipeline an observer is attached to.
type Phase int

const (
	// OnFile observers receive the raw watcher.Event of every modified file.
	OnFile Phase = iota
	// OnType observers receive the typeid.Identity of every redefined element type.
	OnType
)

func (p Phase) String() string {
	switch p {
	case OnFile:
		return "OnFile"
	case OnType:
		return "OnType"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Hook observes values of type D.
type Hook[D any] interface {
	OnEvent(value D) error
}

// Disposer is implemented by observers that hold resources.
// Dispose is called once, when the observer is unregistered.
type Disposer interface {
	Dispose()
}

type funcHook[D any] struct {
	fn func(D) error
}

func (f *funcHook[D]) OnEvent(value D) error {
	return f.fn(value)
}

// Func adapts fn into a Hook. Each call returns a distinct observer,
// so keep the result to unregister it later.
func Func[D any](fn func(D) error) Hook[D] {
	return &funcHook[D]{fn: fn}
}

// Registry holds the observers of both phases.
type Registry struct {
	config *config.Config

	mu     sync.Mutex
	phases map[Phase][]any
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		config: cfg,
		phases: make(map[Phase][]any),
	}
}

// Register appends observer to phase. Registering the same observer twice on
// a phase is a no-op.
func (r *Registry) Register(phase Phase, observer any) error {
	if observer == nil {
		return fmt.Errorf("%w: nil observer", ErrPhaseMismatch)
	}
	if !reflect.TypeOf(observer).Comparable() {
		return fmt.Errorf("%w: observer %T is not comparable, register a pointer", ErrPhaseMismatch, observer)
	}
	switch phase {
	case OnFile:
		if _, ok := observer.(Hook[watcher.Event]); !ok {
			return fmt.Errorf("%w: %s wants Hook[watcher.Event], got %T", ErrPhaseMismatch, phase, observer)
		}
	case OnType:
		if _, ok := observer.(Hook[typeid.Identity]); !ok {
			return fmt.Errorf("%w: %s wants Hook[typeid.Identity], got %T", ErrPhaseMismatch, phase, observer)
		}
	default:
		return fmt.Errorf("%w: unknown phase %s", ErrPhaseMismatch, phase)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.phases[phase] {
		if existing == observer {
			return nil
		}
	}
	r.phases[phase] = append(r.phases[phase], observer)
	return nil
}

// Unregister removes observer from every phase and disposes it.
func (r *Registry) Unregister(observer any) {
	if observer == nil {
		return
	}
	r.mu.Lock()
	found := false
	for phase, observers := range r.phases {
		for i, existing := range observers {
			if existing == observer {
				r.phases[phase] = append(observers[:i:i], observers[i+1:]...)
				found = true
				break
			}
		}
	}
	r.mu.Unlock()

	if found {
		if d, ok := observer.(Disposer); ok {
			d.Dispose()
		}
	}
}

// Len returns the number of observers registered on phase.
func (r *Registry) Len(phase Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.phases[phase])
}

// Clear unregisters every observer.
func (r *Registry) Clear() {
	r.mu.Lock()
	var all []any
	for _, observers := range r.phases {
		all = append(all, observers...)
	}
	r.mu.Unlock()
	for _, observer := range all {
		r.Unregister(observer)
	}
}

// NotifyFile dispatches ev to the OnFile observers.
func (r *Registry) NotifyFile(ev watcher.Event) {
	notify(r, OnFile, ev)
}

// NotifyType dispatches id to the OnType observers.
func (r *Registry) NotifyType(id typeid.Identity) {
	notify(r, OnType, id)
}

// snapshot copies the observers of phase so dispatch runs without the lock.
func (r *Registry) snapshot(phase Phase) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.phases[phase]...)
}

func (r *Registry) registered(phase Phase, observer any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.phases[phase] {
		if existing == observer {
			return true
		}
	}
	return false
}

// notify runs every observer of phase in registration order. Observers
// removed by an earlier observer of the same pass are skipped; observers
// added during the pass run on the next one.
func notify[D any](r *Registry, phase Phase, value D) {
	for _, observer := range r.snapshot(phase) {
		if !r.registered(phase, observer) {
			continue
		}
		h := observer.(Hook[D])
		if err := call(h, value); err != nil {
			r.config.Log(0, "Hooks: %s observer %T failed: %v", phase, observer, err)
		}
	}
}

func call[D any](h Hook[D], value D) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.OnEvent(value)
}
