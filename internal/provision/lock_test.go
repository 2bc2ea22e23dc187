package provision

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockSingleFlight(t *testing.T) {
	l := NewLock()

	const contenders = 64
	var wins atomic.Int64
	var wg sync.WaitGroup

	wg.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), wins.Load())
}

func TestLockBindAndRelease(t *testing.T) {
	l := NewLock()

	require.True(t, l.TryAcquire())
	l.Bind(42)
	require.Equal(t, int64(42), l.Holder())

	require.False(t, l.TryAcquire())

	l.Release()
	require.Equal(t, int64(0), l.Holder())
	require.True(t, l.TryAcquire())
}
