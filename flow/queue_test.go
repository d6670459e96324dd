package flow

import (
	"sync"
	"testing"
	"time"
)

func TestTaskQueue(t *testing.T) {
	t.Run("single worker runs tasks in submission order", func(t *testing.T) {
		q := newTaskQueue(1)
		defer q.Close()

		var mu sync.Mutex
		var order []int
		var dones []<-chan struct{}
		for i := 0; i < 10; i++ {
			i := i
			dones = append(dones, q.Submit(0, func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}
		for _, done := range dones {
			<-done
		}

		for i, got := range order {
			if got != i {
				t.Fatalf("order = %v, want ascending", order)
			}
		}
	})

	t.Run("lower priority value runs first", func(t *testing.T) {
		q := newTaskQueue(1)
		defer q.Close()

		// Block the worker so later submissions queue up.
		release := make(chan struct{})
		blocked := q.Submit(0, func() { <-release })

		var mu sync.Mutex
		var order []string
		submit := func(priority int, tag string) <-chan struct{} {
			return q.Submit(priority, func() {
				mu.Lock()
				order = append(order, tag)
				mu.Unlock()
			})
		}
		lowDone := submit(5, "low")
		highDone := submit(1, "high")
		close(release)
		<-blocked
		<-lowDone
		<-highDone

		if len(order) != 2 || order[0] != "high" || order[1] != "low" {
			t.Errorf("order = %v, want [high low]", order)
		}
	})

	t.Run("submit after close does not run", func(t *testing.T) {
		q := newTaskQueue(1)
		q.Close()

		ran := false
		done := q.Submit(0, func() { ran = true })
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("done channel for rejected task never closed")
		}
		if ran {
			t.Error("task ran on a closed queue")
		}
	})

	t.Run("close drains queued tasks", func(t *testing.T) {
		q := newTaskQueue(2)
		var mu sync.Mutex
		var count int
		for i := 0; i < 25; i++ {
			q.Submit(0, func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}
		q.Close()
		if count != 25 {
			t.Errorf("ran %d tasks, want 25", count)
		}
	})
}
