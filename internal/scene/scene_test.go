package scene

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zot/hotswap/internal/typeid"
)

func box(t *testing.T, args map[string]any) *Node {
	t.Helper()
	n, err := Box.New(args)
	require.NoError(t, err)
	return n
}

func TestNewNodeReadsIDAndClasses(t *testing.T) {
	n := box(t, map[string]any{"id": "header", "class": "weather header", "title": "Today"})

	assert.Equal(t, "header", n.ID())
	assert.Equal(t, []string{"weather", "header"}, n.StyleClasses())
	title, ok := n.Prop("title")
	assert.True(t, ok)
	assert.Equal(t, "Today", title)
	assert.Equal(t, BoxType, n.TypeName())

	_, ok = n.Prop("id")
	assert.False(t, ok)
}

func TestArgsAreCopied(t *testing.T) {
	args := map[string]any{"text": "a"}
	n, err := Label.New(args)
	require.NoError(t, err)

	args["text"] = "b"
	got := n.Args()
	assert.Equal(t, "a", got["text"])
	got["text"] = "c"
	assert.Equal(t, "a", n.Args()["text"])
}

func TestChildrenStructure(t *testing.T) {
	parent := box(t, nil)
	a, b, c := box(t, nil), box(t, nil), box(t, nil)
	require.NoError(t, parent.AddChild(a))
	require.NoError(t, parent.AddChild(b))

	assert.Same(t, parent, a.Parent())
	assert.Equal(t, 1, parent.IndexOf(b))

	require.NoError(t, parent.ReplaceChild(a, c))
	assert.Equal(t, []*Node{c, b}, parent.Children())
	assert.Nil(t, a.Parent())
	assert.Same(t, parent, c.Parent())

	err := parent.ReplaceChild(a, box(t, nil))
	assert.True(t, errors.Is(err, ErrStructure))

	assert.True(t, parent.RemoveChild(b))
	assert.False(t, parent.RemoveChild(b))
	assert.Equal(t, []*Node{c}, parent.Children())
}

func TestAddChildMovesBetweenParents(t *testing.T) {
	p1, p2, child := box(t, nil), box(t, nil), box(t, nil)
	require.NoError(t, p1.AddChild(child))
	require.NoError(t, p2.AddChild(child))

	assert.Empty(t, p1.Children())
	assert.Same(t, p2, child.Parent())
	assert.Error(t, p1.AddChild(p1))
}

func TestOnChildrenChanged(t *testing.T) {
	parent := box(t, nil)
	a, b := box(t, nil), box(t, nil)
	var changes []ChildrenChange
	sub := parent.OnChildrenChanged(func(ch ChildrenChange) {
		changes = append(changes, ch)
	})

	require.NoError(t, parent.AddChild(a))
	require.NoError(t, parent.ReplaceChild(a, b))
	require.Len(t, changes, 2)
	assert.Equal(t, []*Node{a}, changes[0].Added)
	assert.Equal(t, []*Node{b}, changes[1].Added)
	assert.Equal(t, []*Node{a}, changes[1].Removed)

	sub.Cancel()
	sub.Cancel()
	parent.RemoveChild(b)
	assert.Len(t, changes, 2)
}

func TestSceneMembership(t *testing.T) {
	th := NewThread()
	defer th.Stop()
	s := New("main", th)

	root, child := box(t, nil), box(t, nil)
	require.NoError(t, root.AddChild(child))
	assert.Nil(t, child.Scene())

	s.SetRoot(root)
	assert.Same(t, s, child.Scene())
	assert.Same(t, th, child.Thread())

	next := box(t, nil)
	s.SetRoot(next)
	assert.Nil(t, root.Scene())
	assert.Same(t, s, next.Scene())
}

func TestSceneOnChange(t *testing.T) {
	s := New("main", nil)
	changes := 0
	sub := s.OnChange(func() { changes++ })

	root := box(t, nil)
	s.SetRoot(root)
	require.NoError(t, root.AddChild(box(t, nil)))
	root.SetProp("title", "x")
	assert.Equal(t, 3, changes)

	sub.Cancel()
	root.SetProp("title", "y")
	assert.Equal(t, 3, changes)
}

func TestSnapshotJSON(t *testing.T) {
	s := New("main", nil)
	_, ok := s.Snapshot()
	assert.False(t, ok)

	root := box(t, map[string]any{"id": "root"})
	label, err := Label.New(map[string]any{"text": "Sunny"})
	require.NoError(t, err)
	require.NoError(t, root.AddChild(label))
	s.SetRoot(root)

	snap, ok := s.Snapshot()
	require.True(t, ok)
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ui.Box","id":"root","children":[{"type":"ui.Label","props":{"text":"Sunny"}}]}`, string(data))
}

func TestFind(t *testing.T) {
	root := box(t, nil)
	mid := box(t, map[string]any{"id": "mid"})
	leaf := box(t, map[string]any{"id": "leaf"})
	require.NoError(t, root.AddChild(mid))
	require.NoError(t, mid.AddChild(leaf))

	assert.Same(t, leaf, root.Find("leaf"))
	assert.Nil(t, root.Find("nope"))
}

func TestIsElementType(t *testing.T) {
	assert.True(t, IsElementType(Box))
	assert.False(t, IsElementType(typeid.Named("apps.Util")))
	assert.False(t, IsElementType(nil))
}

type countingType struct {
	typeid.Named
	version int
}

func (c *countingType) New(args map[string]any) (*Node, error) {
	n := NewNode(c, args)
	n.props["version"] = c.version
	return n, nil
}

func TestCatalogPublishReplaces(t *testing.T) {
	c := NewCatalog()
	assert.Contains(t, c.Names(), BoxType)

	c.Publish(&countingType{Named: "apps.View", version: 1})
	c.Publish(&countingType{Named: "apps.View", version: 2})

	n, err := c.Instantiate("apps.View", nil)
	require.NoError(t, err)
	v, _ := n.Prop("version")
	assert.Equal(t, 2, v)

	_, err = c.Instantiate("apps.Missing", nil)
	assert.True(t, errors.Is(err, ErrUnknownType))
}

// === Thread ===

func TestThreadRunsInOrder(t *testing.T) {
	th := NewThread()
	defer th.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, th.RunLater(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	th.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestThreadSync(t *testing.T) {
	th := NewThread()
	defer th.Stop()

	v, err := Sync(th, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Sync(th, func() (int, error) { return 0, errors.New("nope") })
	assert.EqualError(t, err, "nope")
}

func TestThreadSurvivesPanic(t *testing.T) {
	th := NewThread()
	defer th.Stop()

	panics := make(chan any, 1)
	th.SetPanicHandler(func(r any) { panics <- r })
	th.RunLater(func() { panic("bad swap") })
	th.Flush()

	assert.Equal(t, "bad swap", <-panics)
	v, err := Sync(th, func() (string, error) { return "alive", nil })
	require.NoError(t, err)
	assert.Equal(t, "alive", v)
}

func TestThreadStopDrainsQueue(t *testing.T) {
	th := NewThread()
	ran := 0
	for i := 0; i < 10; i++ {
		th.RunLater(func() { ran++ })
	}
	th.Stop()
	assert.Equal(t, 10, ran)

	assert.False(t, th.RunLater(func() {}))
	_, err := Sync(th, func() (int, error) { return 1, nil })
	assert.True(t, errors.Is(err, ErrThreadStopped))
	th.Stop()
}
