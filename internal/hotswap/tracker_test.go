package hotswap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zot/hotswap/internal/hook"
	"github.com/zot/hotswap/internal/typeid"
	"github.com/zot/hotswap/internal/watcher"
)

func TestTrackerReloadsParentOnce(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.B")
	f.publish("apps.P", "apps.A", "apps.B")

	live := f.node("apps.P", nil)
	s, th := displayed(t, live)
	p := NewComponent("p", live).MonitorChildren(nil)
	require.NoError(t, f.svc.Register(p))
	a, err := f.svc.RegisterWithID("a", live.Children()[0])
	require.NoError(t, err)

	tracker := p.Tracker()
	require.NotNil(t, tracker)
	assert.Equal(t, []string{"apps.A", "apps.B"}, tracker.Children().Names())

	f.svc.OnChange(f.event(f.unit("apps.A"), watcher.Modified))
	th.Flush()

	assert.Equal(t, 1, p.Reloads())
	assert.Equal(t, 1, a.Reloads())
	assert.Same(t, p.Live(), s.Root())

	kids := s.Root().Children()
	require.Len(t, kids, 2)
	assert.Equal(t, "apps.A", kids[0].TypeName())
	assert.Equal(t, 1, version(kids[0]))

	// a keeps following the instance it was registered with, which now
	// sits in the replaced tree of p
	assert.NotSame(t, kids[0], a.Live())
	assert.Same(t, live, a.Live().Parent())
	assert.Nil(t, a.Live().Scene())
}

func TestTrackerIgnoresUnrelatedTypes(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.Other")
	f.publish("apps.P", "apps.A")

	live := f.node("apps.P", nil)
	_, th := displayed(t, live)
	p := NewComponent("p", live).MonitorChildren(nil)
	require.NoError(t, f.svc.Register(p))

	f.svc.OnChange(f.event(f.unit("apps.Other"), watcher.Modified))
	th.Flush()
	assert.Equal(t, 0, p.Reloads())
}

func TestTrackerFollowsReplacement(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.B")
	f.publish("apps.P", "apps.A")

	live := f.node("apps.P", nil)
	_, th := displayed(t, live)
	p := NewComponent("p", live).MonitorChildren(nil)
	require.NoError(t, f.svc.Register(p))

	// the next definition of P holds a B instead of an A
	f.definer.layout["apps.P"] = []string{"apps.B"}
	f.svc.OnChange(f.event(f.unit("apps.P"), watcher.Modified))
	th.Flush()
	require.Equal(t, 1, p.Reloads())
	assert.Equal(t, []string{"apps.B"}, p.Tracker().Children().Names())

	f.svc.OnChange(f.event(f.unit("apps.A"), watcher.Modified))
	th.Flush()
	assert.Equal(t, 1, p.Reloads())

	f.svc.OnChange(f.event(f.unit("apps.B"), watcher.Modified))
	th.Flush()
	assert.Equal(t, 2, p.Reloads())
}

func TestTrackerSeesChildListChanges(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.B")
	f.publish("apps.P", "apps.A")

	live := f.node("apps.P", nil)
	_, th := displayed(t, live)
	p := NewComponent("p", live).MonitorChildren(nil)
	require.NoError(t, f.svc.Register(p))

	b := f.node("apps.B", nil)
	th.RunLater(func() { live.AddChild(b) })
	th.Flush()
	assert.Equal(t, []string{"apps.A", "apps.B"}, p.Tracker().Children().Names())
}

func TestTrackerCustomStrategy(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.theme.Palette")
	f.publish("apps.P", "apps.A")

	live := f.node("apps.P", nil)
	_, th := displayed(t, live)
	var seen []string
	p := NewComponent("p", live).MonitorChildren(func(id typeid.Identity, children ChildSet) bool {
		seen = append(seen, id.Name())
		return id.Name() == "apps.theme.Palette"
	})
	require.NoError(t, f.svc.Register(p))

	f.svc.OnChange(f.event(f.unit("apps.A"), watcher.Modified))
	f.svc.OnChange(f.event(f.unit("apps.theme.Palette"), watcher.Modified))
	th.Flush()

	assert.Equal(t, []string{"apps.A", "apps.theme.Palette"}, seen)
	assert.Equal(t, 1, p.Reloads())
}

func TestStopMonitoringChildren(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.P", "apps.A")

	live := f.node("apps.P", nil)
	_, th := displayed(t, live)
	p := NewComponent("p", live)
	require.NoError(t, f.svc.Register(p))
	assert.Nil(t, p.Tracker())

	p.MonitorChildren(nil)
	require.NotNil(t, p.Tracker())
	assert.Equal(t, 1, f.svc.Hooks().Len(hook.OnType))

	tracker := p.Tracker()
	p.StopMonitoringChildren()
	assert.Nil(t, p.Tracker())
	assert.Equal(t, 0, f.svc.Hooks().Len(hook.OnType))

	// a disposed tracker is inert
	require.NoError(t, tracker.OnEvent(typeid.MustWrap(typeid.Named("apps.A"))))
	f.svc.OnChange(f.event(f.unit("apps.A"), watcher.Modified))
	th.Flush()
	assert.Equal(t, 0, p.Reloads())
}

func TestUnregisterDetachesTracker(t *testing.T) {
	f := newFixture(t)
	f.publish("apps.A")
	f.publish("apps.P", "apps.A")
	p := NewComponent("p", f.node("apps.P", nil)).MonitorChildren(nil)
	require.NoError(t, f.svc.Register(p))

	require.NoError(t, f.svc.Unregister("p"))
	assert.Equal(t, 0, f.svc.Hooks().Len(hook.OnType))
}

func TestMembershipStrategy(t *testing.T) {
	set := ChildSet{"apps.A": {}}
	assert.True(t, MembershipStrategy(typeid.MustWrap(typeid.Named("apps.A")), set))
	assert.False(t, MembershipStrategy(typeid.MustWrap(typeid.Named("apps.B")), set))
}
