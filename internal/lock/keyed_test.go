package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedDedupsAndSorts(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Ordered("c", "a", "b", "a"))
}

func TestLockSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := k.Lock("account:1")
			defer release()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.locks)
}

func TestLockAllOppositeOrderDoesNotDeadlock(t *testing.T) {
	k := NewKeyed()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			k.LockAll(Wallet("a"), Wallet("b"))()
		}()
		go func() {
			defer wg.Done()
			k.LockAll(Wallet("b"), Wallet("a"))()
		}()
	}
	wg.Wait()
}
