package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCacheDisabledReturnsUsableNoOpClient(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.IsEnabled())
}

func TestDisabledCacheSetAndDeleteAreSilentNoOps(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, c.Set(context.Background(), "key", "value", time.Minute))
	assert.NoError(t, c.Delete(context.Background(), "key"))
}

func TestDisabledCacheGetReturnsError(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)

	var target string
	err = c.Get(context.Background(), "key", &target)
	assert.Error(t, err)
}

func TestDisabledCacheGetStatsReportsDisabled(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)

	stats, err := c.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "false", stats["enabled"])
}

func TestDisabledCacheCloseIsSafe(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestNewCacheEnabledWithUnreachableHostReturnsError(t *testing.T) {
	_, err := NewCache(Config{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    "1",
	})
	assert.Error(t, err, "ping against an unreachable address must fail fast rather than block forever")
}
