package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricQueueFIFO(t *testing.T) {
	q := NewMetricQueue()
	q.Enqueue("temperature")
	q.Enqueue("temperature")

	name, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "temperature", name)

	name, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "temperature", name)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestMetricQueueOrderAcrossValues(t *testing.T) {
	q := NewMetricQueue()
	for i := 0; i < 10; i++ {
		q.Enqueue(fmt.Sprintf("metric-%d", i))
	}
	for i := 0; i < 10; i++ {
		name, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("metric-%d", i), name)
	}
}

func TestMetricQueueConcurrentProducers(t *testing.T) {
	q := NewMetricQueue()
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue("temperature")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
	count := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}

func TestMetricQueueWakeSignal(t *testing.T) {
	q := NewMetricQueue()

	select {
	case <-q.Wake():
		t.Fatal("wake signal before enqueue")
	default:
	}

	q.Enqueue("temperature")
	select {
	case <-q.Wake():
	default:
		t.Fatal("expected wake signal after enqueue")
	}
}
