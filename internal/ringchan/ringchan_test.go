package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)

	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_SendReportsOverwrite(t *testing.T) {
	rc := New[string](1)
	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
	assert.Equal(t, "b", <-rc.C())
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send(1) })
	assert.Equal(t, int64(1), rc.Metrics().Dropped)

	_, ok := <-rc.C()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8, rc.Len())
	m := rc.Metrics()
	assert.Equal(t, int64(400), m.Written)
	assert.Equal(t, int64(392), m.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
