package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overunder/internal/domain"
)

func TestRegistry_OnePairPerGame(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add(1, Pair{"o1", "u1"}))
	assert.False(t, r.Add(1, Pair{"o1", "u1"}))
	assert.False(t, r.Add(1, Pair{"other", "pair"}))
	assert.Equal(t, 1, r.Len())

	p, ok := r.Remove(1)
	require.True(t, ok)
	assert.Equal(t, "o1", p.Address(domain.SideOver))
	assert.Equal(t, "u1", p.Address(domain.SideUnder))

	_, ok = r.Remove(1)
	assert.False(t, ok)
	assert.True(t, r.Add(1, Pair{"o1", "u1"}))
}

func TestRegistry_Diff(t *testing.T) {
	r := NewRegistry()
	r.Add(1, Pair{"o1", "u1"})
	r.Add(2, Pair{"o2", "u2"})

	add, remove := r.Diff(map[int64]Pair{
		2: {"o2", "u2"},
		3: {"o3", "u3"},
	})

	assert.Equal(t, map[int64]Pair{3: {"o3", "u3"}}, add)
	assert.Equal(t, []int64{1}, remove)
	assert.Equal(t, []int64{1, 2}, r.IDs(), "Diff does not modify the registry")
}
