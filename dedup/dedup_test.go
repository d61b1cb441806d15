package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSeenFirstAndSecondDelivery(t *testing.T) {
	t.Parallel()

	d := New()
	key := "source|0xabc|3"

	require.False(t, d.Seen(key))
	require.True(t, d.MarkSeen(key), "first delivery must win")
	require.False(t, d.MarkSeen(key), "second delivery must be rejected")
	require.True(t, d.Seen(key))
	assert.Equal(t, 1, d.Size())
}

func TestMarkSeenDistinctKeys(t *testing.T) {
	t.Parallel()

	d := New()
	require.True(t, d.MarkSeen("source|0xabc|3"))
	require.True(t, d.MarkSeen("source|0xabc|4"))
	require.True(t, d.MarkSeen("target|ABC123"))
	assert.Equal(t, 3, d.Size())
}

func TestMarkSeenConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	d := New()
	const workers = 32
	const keys = 50

	var wins sync.Map
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				key := fmt.Sprintf("chain|tx%d", k)
				if d.MarkSeen(key) {
					if _, loaded := wins.LoadOrStore(key, struct{}{}); loaded {
						t.Errorf("key %s won twice", key)
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, keys, d.Size())
}
