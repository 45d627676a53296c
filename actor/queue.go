package actor

import "github.com/gammazero/deque"

// queue is a growable ring buffer used both by the mailbox worker (the
// teacher's original use) and by each Process's own mailbox queue. It
// wraps gammazero/deque, the teacher's own dependency, instead of
// reimplementing a ring buffer by hand.
type queue[T any] struct {
	d *deque.Deque[T]
}

// newQueue returns a queue pre-sized to capacity, never shrinking below
// minCapacity. A minCapacity of 0 lets the underlying deque shrink freely.
func newQueue[T any](capacity, minCapacity int) *queue[T] {
	return &queue[T]{d: deque.New[T](capacity, minCapacity)}
}

func (q *queue[T]) IsEmpty() bool { return q.d.Len() == 0 }

func (q *queue[T]) Len() int { return q.d.Len() }

func (q *queue[T]) PushBack(v T) { q.d.PushBack(v) }

func (q *queue[T]) Front() T { return q.d.Front() }

func (q *queue[T]) PopFront() T { return q.d.PopFront() }
