package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken string

func TestScopeResolvesContextToken(t *testing.T) {
	pctx := newPluginContext("demo", nil, nil)
	scope := NewScope(ScopeOptions{Context: pctx, PluginName: "demo"})

	got, ok := scope.Get(ContextToken)
	require.True(t, ok)
	assert.Same(t, pctx, got)
}

func TestScopeDelegatesToParent(t *testing.T) {
	parent := ServiceLocatorFunc(func(token ServiceToken) (any, bool) {
		if token == fakeToken("db") {
			return "connection", true
		}
		return nil, false
	})
	scope := NewScope(ScopeOptions{Parent: parent, PluginName: "demo"})

	v, ok := scope.Get(fakeToken("db"))
	require.True(t, ok)
	assert.Equal(t, "connection", v)

	_, ok = scope.Get(fakeToken("missing"))
	assert.False(t, ok)
}

func TestScopeExtraProvidersOverrideParent(t *testing.T) {
	parent := ServiceLocatorFunc(func(ServiceToken) (any, bool) { return "from-parent", true })
	scope := NewScope(ScopeOptions{
		Parent:         parent,
		ExtraProviders: map[ServiceToken]any{fakeToken("x"): "from-scope"},
	})

	v, ok := scope.Get(fakeToken("x"))
	require.True(t, ok)
	assert.Equal(t, "from-scope", v)
}

func TestScopeDestroyIsIdempotentAndNeverPanics(t *testing.T) {
	scope := NewScope(ScopeOptions{})
	assert.NotPanics(t, func() {
		scope.Destroy()
		scope.Destroy()
		scope.Destroy()
	})
	assert.True(t, scope.IsDestroyed())

	_, ok := scope.Get(fakeToken("anything"))
	assert.False(t, ok)
}
