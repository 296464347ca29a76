package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/app/playback"
)

func TestGuildRegistry_GetOrCreate(t *testing.T) {
	r := NewGuildRegistry(playback.Config{})

	a := r.GetOrCreate("guild-a")
	require.NotNil(t, a)
	assert.Equal(t, "guild-a", a.GuildID())
	assert.Equal(t, playback.StateIdle, a.State())

	assert.Same(t, a, r.GetOrCreate("guild-a"))
	assert.NotSame(t, a, r.GetOrCreate("guild-b"))
	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.All(), 2)
}

func TestGuildRegistry_GetOrCreateConcurrent(t *testing.T) {
	r := NewGuildRegistry(playback.Config{})

	const n = 50
	results := make([]*playback.Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("guild-a")
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	assert.Equal(t, 1, r.Count())
}

func TestGuildRegistry_SessionStopRemovesEntry(t *testing.T) {
	r := NewGuildRegistry(playback.Config{})

	s := r.GetOrCreate("guild-a")
	s.Stop()

	_, ok := r.Get("guild-a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())

	fresh := r.GetOrCreate("guild-a")
	assert.NotSame(t, s, fresh)
	assert.False(t, fresh.Closed())
}

func TestGuildRegistry_RemoveIgnoresOtherInstance(t *testing.T) {
	r := NewGuildRegistry(playback.Config{})

	old := r.GetOrCreate("guild-a")
	require.True(t, r.Remove("guild-a", old))
	current := r.GetOrCreate("guild-a")

	// A late removal from the old instance must not drop the new one
	assert.False(t, r.Remove("guild-a", old))
	got, ok := r.Get("guild-a")
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.False(t, r.Remove("guild-unknown", current))
}
