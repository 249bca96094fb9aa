package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-session/internal/role"
)

func TestResultCache_EpochScoping(t *testing.T) {
	c := newResultCache(4)
	c.put(Result{Feature: role.FeatureChat, Allowed: true, Epoch: 1})

	_, ok := c.get(1, role.FeatureChat)
	assert.True(t, ok)
	_, ok = c.get(2, role.FeatureChat)
	assert.False(t, ok)

	c.put(Result{Feature: role.FeatureSettings, Epoch: 2})
	_, ok = c.get(1, role.FeatureChat)
	assert.False(t, ok, "newer epoch drops older entries")
	assert.Equal(t, 1, c.len())

	c.put(Result{Feature: role.FeatureChat, Epoch: 1})
	assert.Equal(t, 1, c.len(), "results for an older epoch are discarded")

	c.reset(1)
	_, ok = c.get(2, role.FeatureSettings)
	assert.True(t, ok, "reset never rolls back")
}

func TestResultCache_EvictsOldest(t *testing.T) {
	c := newResultCache(2)
	c.put(Result{Feature: "a", Epoch: 1})
	c.put(Result{Feature: "b", Epoch: 1})
	c.put(Result{Feature: "a", Epoch: 1, Allowed: true})
	c.put(Result{Feature: "c", Epoch: 1})

	_, ok := c.get(1, "b")
	assert.False(t, ok)
	r, ok := c.get(1, "a")
	assert.True(t, ok)
	assert.True(t, r.Allowed)
	_, ok = c.get(1, "c")
	assert.True(t, ok)
}

func TestResultCache_HitRefreshesRecency(t *testing.T) {
	c := newResultCache(2)
	c.put(Result{Feature: "a", Epoch: 1})
	c.put(Result{Feature: "b", Epoch: 1})

	_, ok := c.get(1, "a")
	assert.True(t, ok)
	c.put(Result{Feature: "c", Epoch: 1})

	_, ok = c.get(1, "b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.get(1, "a")
	assert.True(t, ok)
	_, ok = c.get(1, "c")
	assert.True(t, ok)
}
