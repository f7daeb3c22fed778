package router

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](4)
	for i := range 3 {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false", i)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	for want := range 3 {
		got, ok := q.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d, %v, want %d, true", got, ok, want)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue = true")
	}
}

func TestQueue_GrowsWhenFull(t *testing.T) {
	q := NewQueue[int](2)
	var grown []int
	q.OnGrow(func(c int) { grown = append(grown, c) })

	// Pop once first so the ring wraps before the resize.
	q.Push(-1)
	q.TryPop()
	for i := range 9 {
		q.Push(i)
	}

	s := q.Stats()
	if s.Capacity != 16 {
		t.Errorf("Capacity = %d, want 16", s.Capacity)
	}
	if s.Grows != 3 || len(grown) != 3 || grown[2] != 16 {
		t.Errorf("Grows = %d, callbacks = %v", s.Grows, grown)
	}
	for want := range 9 {
		if got, _ := q.TryPop(); got != want {
			t.Fatalf("TryPop() = %d, want %d", got, want)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](1)
	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Pop returned %q before Push", v)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("frame")
	select {
	case v := <-got:
		if v != "frame" {
			t.Errorf("Pop() = %q, want frame", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop() on empty queue with expired context = true")
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Close()
	q.Close()

	if q.Push(3) {
		t.Error("Push after Close = true")
	}
	for want := 1; want <= 2; want++ {
		if got, ok := q.Pop(context.Background()); !ok || got != want {
			t.Fatalf("Pop() = %d, %v, want %d, true", got, ok, want)
		}
	}
	if _, ok := q.Pop(context.Background()); ok {
		t.Error("Pop() on closed, empty queue = true")
	}
}

func TestQueue_CloseWakesWaiter(t *testing.T) {
	q := NewQueue[int](1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop() after Close = true")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Pop")
	}
}

func TestQueue_ConcurrentProducersSingleConsumer(t *testing.T) {
	const producers, perProducer = 4, 500
	q := NewQueue[int](8)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push(p*perProducer + i)
			}
		}()
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	// Each producer's items must arrive in its own push order.
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	total := 0
	for {
		v, ok := q.Pop(context.Background())
		if !ok {
			break
		}
		p, i := v/perProducer, v%perProducer
		if i <= last[p] {
			t.Fatalf("producer %d: got %d after %d", p, i, last[p])
		}
		last[p] = i
		total++
	}
	if total != producers*perProducer {
		t.Errorf("popped %d items, want %d", total, producers*perProducer)
	}

	s := q.Stats()
	if s.Pushed != int64(total) || s.Popped != int64(total) || s.Depth != 0 {
		t.Errorf("Stats = %+v", s)
	}
	if s.HighWater < 1 || s.HighWater > total {
		t.Errorf("HighWater = %d", s.HighWater)
	}
}

func TestNewQueue_MinCapacity(t *testing.T) {
	q := NewQueue[int](0)
	if got := q.Stats().Capacity; got != 1 {
		t.Errorf("Capacity = %d, want 1", got)
	}
	q.Push(1)
	q.Push(2)
	if got := q.Stats().Capacity; got != 2 {
		t.Errorf("Capacity after growth = %d, want 2", got)
	}
}
