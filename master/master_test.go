package master

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rydesta-lang/rydesta/value"
)

func TestNew_FeedsBootScriptWithoutError(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)
	assert.NotNil(t, m.State.Env)
}

func TestFeed_LastExpressionValue(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)

	v, err := m.Feed("1\n2\n3")
	require.NoError(t, err)
	n, ok := v.(*value.Num)
	require.True(t, ok)
	assert.Equal(t, int64(3), n.Int64())
}

func TestFeed_EmptySourceReturnsNothing(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)

	v, err := m.Feed("")
	require.NoError(t, err)
	assert.Equal(t, value.TheNothing, v)
}

func TestBootAnd_ShortCircuits(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)

	v, err := m.Feed(`'and false undefined-thing`)
	require.NoError(t, err)
	b, ok := v.(*value.Bool)
	require.True(t, ok)
	assert.False(t, b.Truthy())
}

func TestBootOr_ShortCircuits(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)

	v, err := m.Feed(`'or true undefined-thing`)
	require.NoError(t, err)
	b, ok := v.(*value.Bool)
	require.True(t, ok)
	assert.True(t, b.Truthy())
}

func TestNeeds_LoadsAndCachesModule(t *testing.T) {
	dir := t.TempDir()
	modPath := filepath.Join(dir, "greet.ry")
	require.NoError(t, os.WriteFile(modPath, []byte("greeting = \"hi\""), 0o644))

	entry := filepath.Join(dir, "main.ry")
	m, err := New(entry)
	require.NoError(t, err)

	_, err = m.Feed(`needs "greet"`)
	require.NoError(t, err)

	abs, err := filepath.Abs(modPath)
	require.NoError(t, err)
	_, cached := m.cache[abs]
	assert.True(t, cached, "module should be cached by absolute path after first load")

	route, ok := m.State.Env.Get("Greet")
	require.True(t, ok, "module should be bound under its title-cased base name")
	assert.Equal(t, "routeable", route.Type())

	// Loading it again must reuse the cached environment rather than
	// re-running the module's top-level code.
	_, err = m.Feed(`needs "greet"`)
	require.NoError(t, err)
	assert.Len(t, m.cache, 2) // <boot> plus this one module
}

func TestNeeds_ExposeFlattensBindings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.ry"), []byte(`greeting = "hi"`), 0o644))

	entry := filepath.Join(dir, "main.ry")
	m, err := New(entry)
	require.NoError(t, err)

	_, err = m.Feed(`needs "greet" exposed`)
	require.NoError(t, err)

	v, ok := m.State.Env.Get("greeting")
	require.True(t, ok, "exposed module bindings should flatten into the importer's env")
	assert.Equal(t, "hi", v.String())
}

func TestNeeds_MissingModuleFails(t *testing.T) {
	m, err := New(filepath.Join(t.TempDir(), "main.ry"))
	require.NoError(t, err)

	_, err = m.Feed(`needs "does-not-exist"`)
	assert.Error(t, err)
}

func TestReport_ReaderErrorIncludesFilename(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)

	_, err = m.Feed(`1 / 0`)
	require.Error(t, err)
	assert.Contains(t, m.Report(err), "test.ry")
}

func TestReport_RuntimeErrorIncludesFilename(t *testing.T) {
	m, err := New("test.ry")
	require.NoError(t, err)

	_, err = m.Feed(`ret 1`)
	require.Error(t, err)
	assert.Contains(t, m.Report(err), "test.ry")
}
