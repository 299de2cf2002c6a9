package prefetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefetcherYieldsInOrder(t *testing.T) {
	want := []int{10, 20, 30}
	i := 0
	p := New(func(idx int, slot *int) (bool, error) {
		if i >= len(want) {
			return false, nil
		}
		*slot = want[i]
		i++
		return true, nil
	})
	defer p.Close()

	var got []int
	for {
		lease, err := p.Next()
		require.NoError(t, err)
		if lease == nil {
			break
		}
		got = append(got, *lease.Slot)
		lease.Release()
	}
	require.Equal(t, want, got)
}

func TestPrefetcherPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	p := New(func(idx int, slot *int) (bool, error) {
		return false, boom
	})
	defer p.Close()

	_, err := p.Next()
	require.ErrorIs(t, err, boom)
}

func TestPrefetcherCloseStopsProducer(t *testing.T) {
	calls := 0
	p := New(func(idx int, slot *int) (bool, error) {
		calls++
		*slot = calls
		return true, nil
	})
	lease, err := p.Next()
	require.NoError(t, err)
	lease.Release()
	p.Close()
	// Close must return promptly without deadlocking; no further
	// assertions needed beyond reaching this point.
}
