package framering

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New[int](0, DropOldest)
	assert.True(t, errors.Is(err, ErrInvalidCapacity))

	_, err = New[int](4, Policy(7))
	assert.True(t, errors.Is(err, ErrInvalidPolicy))

	r, err := New[int](4, KeepLatest)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Capacity())
	assert.Equal(t, KeepLatest, r.Policy())
	assert.Equal(t, 0, r.Occupancy())
}

// TestDropOldest_Overflow covers capacity=5, push 1..7, drain.
func TestDropOldest_Overflow(t *testing.T) {
	r, err := New[int](5, DropOldest)
	require.NoError(t, err)

	evicted := 0
	for i := 1; i <= 7; i++ {
		evicted += r.Push(i)
	}
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 5, r.Occupancy())

	var got []int
	for {
		v, ok := r.PopOldest()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5, 6, 7}, got)

	s := r.Stats()
	assert.Equal(t, uint64(7), s.Pushed)
	assert.Equal(t, uint64(5), s.Popped)
	assert.Equal(t, uint64(2), s.Evicted)
	t.Logf("✅ drop-oldest kept the newest 5 frames in order: %v", got)
}

func TestDropOldest_FIFOUnderCapacity(t *testing.T) {
	r, _ := New[int](5, DropOldest)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	v, ok := r.PopOldest()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, r.Occupancy())

	// Wrap the cursors around a few times.
	for i := 4; i <= 20; i++ {
		r.Push(i)
		v, ok = r.PopOldest()
		require.True(t, ok)
		assert.Equal(t, i-2, v)
	}
}

func TestKeepLatest_Push(t *testing.T) {
	r, _ := New[int](5, KeepLatest)
	assert.Equal(t, 0, r.Push(1))
	assert.Equal(t, 1, r.Push(2))
	assert.Equal(t, 1, r.Push(3))
	assert.Equal(t, 1, r.Occupancy())

	v, ok := r.PopOldest()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

// TestKeepLatest_Property: after any sequence of pushes, PopLatest returns the
// last pushed frame and leaves the ring empty, whatever the policy.
func TestKeepLatest_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, policy := range []Policy{DropOldest, KeepLatest} {
		for trial := 0; trial < 200; trial++ {
			r, _ := New[int](1+rng.Intn(16), policy)
			n := 1 + rng.Intn(40)
			last := 0
			for i := 0; i < n; i++ {
				last = rng.Int()
				r.Push(last)
			}
			v, ok := r.PopLatest()
			require.True(t, ok)
			require.Equal(t, last, v, "policy=%s trial=%d", policy, trial)
			require.Equal(t, 0, r.Occupancy())
		}
	}
	t.Logf("✅ PopLatest returned the newest frame in 400 random trials")
}

func TestPopLatest_DiscardCount(t *testing.T) {
	r, _ := New[int](8, DropOldest)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	v, ok := r.PopLatest()
	require.True(t, ok)
	assert.Equal(t, 4, v)
	assert.Equal(t, uint64(4), r.Stats().Discarded)

	// Ring is reusable afterwards.
	r.Push(10)
	v, ok = r.PopOldest()
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

// TestEmpty_Idempotent: popping an empty ring repeatedly never changes state.
func TestEmpty_Idempotent(t *testing.T) {
	for _, policy := range []Policy{DropOldest, KeepLatest} {
		r, _ := New[int](3, policy)
		for i := 0; i < 10; i++ {
			_, ok := r.PopOldest()
			assert.False(t, ok)
			_, ok = r.PopLatest()
			assert.False(t, ok)
			assert.Equal(t, 0, r.Occupancy())
		}
		assert.Equal(t, uint64(0), r.Stats().Popped)
	}
}

func TestSlotsZeroedOnRemoval(t *testing.T) {
	r, _ := New[*int](3, DropOldest)
	a, b, c, d := 1, 2, 3, 4
	r.Push(&a)
	r.Push(&b)
	r.Push(&c)
	r.Push(&d) // evicts &a

	for _, s := range r.slots {
		assert.NotSame(t, &a, s, "evicted frame still referenced")
	}

	r.PopLatest()
	for i, s := range r.slots {
		assert.Nil(t, s, "slot %d retained after PopLatest", i)
	}
}

func TestClose(t *testing.T) {
	r, _ := New[*int](3, DropOldest)
	x := 1
	r.Push(&x)
	r.Push(&x)

	r.Close()
	r.Close()

	assert.Equal(t, 0, r.Occupancy())
	for _, s := range r.slots {
		assert.Nil(t, s)
	}
	assert.Equal(t, 0, r.Push(&x))
	_, ok := r.PopOldest()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), r.Stats().Rejected)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	r, _ := New[int](12, DropOldest)
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(2)
	var popped []int
	done := make(chan struct{})

	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < n; i++ {
			r.Push(i)
		}
	}()
	go func() {
		defer wg.Done()
		for {
			if v, ok := r.PopOldest(); ok {
				popped = append(popped, v)
				continue
			}
			select {
			case <-done:
				for {
					v, ok := r.PopOldest()
					if !ok {
						return
					}
					popped = append(popped, v)
				}
			default:
			}
		}
	}()
	wg.Wait()

	for i := 1; i < len(popped); i++ {
		require.Less(t, popped[i-1], popped[i], "order violated at %d", i)
	}
	s := r.Stats()
	assert.Equal(t, uint64(n), s.Pushed)
	assert.Equal(t, uint64(n), s.Popped+s.Evicted)
	t.Logf("✅ %d pushed, %d popped, %d evicted", s.Pushed, s.Popped, s.Evicted)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{DropOldest, KeepLatest} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, got)

	_, err = ParsePolicy("drop-newest")
	assert.True(t, errors.Is(err, ErrInvalidPolicy))
}
