package fifo_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/fifo"
)

func TestFifoOrder(t *testing.T) {
	q := fifo.New[int](8)

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	require.Equal(t, 5, q.Size())

	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue(false)
		require.True(t, ok)
		require.Equal(t, i, item)
	}

	_, ok := q.Dequeue(false)
	require.False(t, ok)
}

func TestFifoEnqueueFront(t *testing.T) {
	q := fifo.New[string](4)

	q.Enqueue("a")
	q.Enqueue("b")
	q.EnqueueFront("first")

	first, ok := q.PeekFirst()
	require.True(t, ok)
	require.Equal(t, "first", first)

	last, ok := q.PeekLast()
	require.True(t, ok)
	require.Equal(t, "b", last)

	var out []string
	for {
		item, ok := q.Dequeue(false)
		if !ok {
			break
		}
		out = append(out, item)
	}
	require.Equal(t, []string{"first", "a", "b"}, out)
}

func TestFifoGrowth(t *testing.T) {
	const capacity = 4
	q := fifo.New[int](capacity)

	// Move head and tail away from zero so that the contents wrap when growth happens
	for i := 0; i < 3; i++ {
		q.Enqueue(-1)
		_, _ = q.Dequeue(false)
	}

	for i := 0; i < capacity*3; i++ {
		q.Enqueue(i)
	}
	require.Equal(t, capacity*3, q.Size())
	require.Greater(t, q.Capacity(), capacity)

	for i := 0; i < capacity*3; i++ {
		item, ok := q.Dequeue(false)
		require.True(t, ok)
		require.Equal(t, i, item)
	}
}

func TestFifoGrowthFront(t *testing.T) {
	q := fifo.New[int](2)

	for i := 0; i < 10; i++ {
		q.EnqueueFront(i)
	}

	for i := 9; i >= 0; i-- {
		item, ok := q.Dequeue(false)
		require.True(t, ok)
		require.Equal(t, i, item)
	}
}

func TestFifoDiscard(t *testing.T) {
	q := fifo.New[int](4)
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}

	require.Equal(t, 7, q.Discard(3))
	require.Equal(t, 3, q.Size())

	item, ok := q.Dequeue(false)
	require.True(t, ok)
	require.Equal(t, 7, item)
}

func TestFifoReset(t *testing.T) {
	q := fifo.New[int](4)
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	capacity := q.Capacity()

	q.Reset()
	require.Equal(t, 0, q.Size())
	require.Equal(t, capacity, q.Capacity())

	q.Enqueue(42)
	item, ok := q.Dequeue(false)
	require.True(t, ok)
	require.Equal(t, 42, item)
}

func TestFifoBlockingDequeue(t *testing.T) {
	q := fifo.New[int](2)

	result := make(chan int)
	go func() {
		item, ok := q.Dequeue(true)
		require.True(t, ok)
		result <- item
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(17)

	select {
	case item := <-result:
		require.Equal(t, 17, item)
	case <-time.After(5 * time.Second):
		t.Fatal("blocking dequeue never returned")
	}
}

func TestFifoClose(t *testing.T) {
	q := fifo.New[int](2)

	done := make(chan bool)
	go func() {
		_, ok := q.Dequeue(true)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not wake the consumer")
	}
}

func TestFifoWaitEmpty(t *testing.T) {
	q := fifo.New[int](2)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}

	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(time.Millisecond)
			_, _ = q.Dequeue(true)
		}
	}()

	q.WaitEmpty()
	require.Equal(t, 0, q.Size())
}

func TestFifoConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 500

	q := fifo.New[int](2)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}

	for len(seen) < producers*perProducer {
		item, ok := q.Dequeue(true)
		require.True(t, ok)
		require.False(t, seen[item])
		seen[item] = true

		producer := item / perProducer
		require.Greater(t, item, lastPerProducer[producer])
		lastPerProducer[producer] = item
	}

	wg.Wait()
	require.Equal(t, 0, q.Size())
}
