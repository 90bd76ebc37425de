package queue_test

import (
	"math/rand"
	"testing"

	"github.com/cinderkv/sorter/queue"
)

func intCmpFunc(a, b int) int {
	return a - b
}

func TestAllEqual(t *testing.T) {
	q := queue.NewPriorityQueue(intCmpFunc)
	for i := 20; i > 0; i-- {
		q.Push(0) // all elements are the same
	}

	l := q.Len()
	if l != 20 {
		t.Fatalf("queue len is %d, expected %d", l, 20)
	}

	for i := 1; q.Len() > 0; i++ {
		x := q.Peek()
		y := q.Pop()
		if x != y {
			t.Fatalf("q.Peek() and q.Pop() returned different values %d %d", x, y)
		}
		if x != 0 {
			t.Errorf("%d.th pop got %d; want %d", i, x, 0)
		}
	}
}

func TestPushPopOrder(t *testing.T) {
	q := queue.NewPriorityQueue(intCmpFunc)
	if q.Len() != 0 {
		t.Fatalf("queue len is %d, expected %d", q.Len(), 0)
	}

	for i := 20; i > 0; i-- {
		q.Push(i)
	}
	if q.Len() != 20 {
		t.Fatalf("queue len is %d, expected %d", q.Len(), 20)
	}

	for i := 1; q.Len() > 0; i++ {
		x := q.Peek()
		y := q.Pop()
		if x != y {
			t.Fatalf("q.Peek() and q.Pop() returned different values %d %d", x, y)
		}
		if x != i {
			t.Errorf("%d.th pop got %d; want %d", i, x, i)
		}
	}
}

func TestRandomOrder(t *testing.T) {
	q := queue.NewPriorityQueue(intCmpFunc)
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 1000; i++ {
		q.Push(rng.Intn(500))
	}

	prev := -1
	for q.Len() > 0 {
		x := q.Pop()
		if x < prev {
			t.Fatalf("pop returned %d after %d, queue not ordered", x, prev)
		}
		prev = x
	}
}

// PeekUpdate restores heap order after the root's value changes, the way the
// merge advances a source in place.
func TestPeekUpdate(t *testing.T) {
	type source struct{ head int }

	a := &source{head: 1}
	b := &source{head: 5}
	q := queue.NewPriorityQueue(func(x, y *source) int {
		return x.head - y.head
	})
	q.Push(a)
	q.Push(b)

	if q.Peek() != a {
		t.Fatalf("expected a at the root")
	}
	a.head = 10
	q.PeekUpdate()
	if q.Peek() != b {
		t.Fatalf("expected b at the root after update")
	}
}
