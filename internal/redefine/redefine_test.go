package redefine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zot/hotswap/internal/typeid"
)

type handle struct {
	name string
	data string
}

func (h *handle) QualifiedName() string { return h.name }

// fakeDefiner records every call and returns a new handle each time
type fakeDefiner struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (f *fakeDefiner) Define(name string, data []byte) (typeid.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail != nil {
		return nil, f.fail
	}
	return &handle{name: name, data: string(data)}, nil
}

type nilDefiner struct{}

func (nilDefiner) Define(string, []byte) (typeid.Handle, error) { return nil, nil }

func writeUnit(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRedefineNeverCaches(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "apps/Header.lua", "v1")
	def := &fakeDefiner{}
	r := New(def)

	first, err := r.Redefine("apps.Header", path)
	require.NoError(t, err)
	second, err := r.Redefine("apps.Header", path)
	require.NoError(t, err)

	assert.Len(t, def.calls, 2)
	assert.True(t, first.Equal(second))
	assert.NotSame(t, first.Handle(), second.Handle())
}

func TestRedefineReadsCurrentBytes(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "Header.lua", "v1")
	r := New(&fakeDefiner{})

	id, digest, err := r.RedefineDigest("Header", path)
	require.NoError(t, err)
	assert.Equal(t, "v1", id.Handle().(*handle).data)
	assert.Equal(t, Digest([]byte("v1")), digest)

	writeUnit(t, dir, "Header.lua", "v2")
	id, err = r.Redefine("Header", path)
	require.NoError(t, err)
	assert.Equal(t, "v2", id.Handle().(*handle).data)
}

func TestRedefineMissingFile(t *testing.T) {
	r := New(&fakeDefiner{})
	_, err := r.Redefine("Gone", filepath.Join(t.TempDir(), "Gone.lua"))
	assert.True(t, errors.Is(err, ErrRedefinition))
}

func TestRedefineDefinerFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "Bad.lua", "return")
	r := New(&fakeDefiner{fail: errors.New("syntax error")})

	_, err := r.Redefine("Bad", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRedefinition))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestRedefineNilHandle(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "Empty.lua", "")
	_, err := New(nilDefiner{}).Redefine("Empty", path)
	assert.True(t, errors.Is(err, ErrRedefinition))
}

func TestQualifiedName(t *testing.T) {
	root := filepath.FromSlash("/work/out")

	name, err := QualifiedName(root, filepath.FromSlash("/work/out/apps/weather/Header.lua"), ".lua")
	require.NoError(t, err)
	assert.Equal(t, "apps.weather.Header", name)

	name, err = QualifiedName(root, filepath.FromSlash("/work/out/Main.lua"), ".lua")
	require.NoError(t, err)
	assert.Equal(t, "Main", name)

	_, err = QualifiedName(root, filepath.FromSlash("/work/other/Main.lua"), ".lua")
	assert.Error(t, err)

	_, err = QualifiedName(root, filepath.FromSlash("/work/out/theme.css"), ".lua")
	assert.Error(t, err)
}

func TestIsUnit(t *testing.T) {
	assert.True(t, IsUnit("/out/View.lua", ".lua"))
	assert.False(t, IsUnit("/out/theme.css", ".lua"))
	assert.False(t, IsUnit("/out/.lua", ".lua"))
	assert.False(t, IsUnit("/out/View.lua", ""))
}

func TestFileDigest(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "A.lua", "same")
	d1, err := FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, Digest([]byte("same")), d1)

	_, err = FileDigest(filepath.Join(dir, "missing.lua"))
	assert.Error(t, err)
}
