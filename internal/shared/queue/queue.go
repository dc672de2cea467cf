package queue

// Queue is a growable FIFO ring buffer.
// It is not safe for concurrent use: owners guard it with their own lock.
type Queue[T any] struct {
	buf        []T
	head, tail int // head: next write, tail: next read
	n          int
}

func (q *Queue[T]) Init(size int) {
	if size < 2 {
		size = 2
	}
	q.buf = make([]T, size)
	q.head, q.tail, q.n = 0, 0, 0
}

// Push appends v, doubling the buffer when it is full.
func (q *Queue[T]) Push(v T) {
	if q.buf == nil {
		q.Init(2)
	}
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[q.head] = v
	q.head = (q.head + 1) % len(q.buf)
	q.n++
}

// TryPop removes and returns the oldest element.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.tail]
	q.buf[q.tail] = zero // release reference
	q.tail = (q.tail + 1) % len(q.buf)
	q.n--
	return v, true
}

// Peek returns the oldest element without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.n == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.tail], true
}

func (q *Queue[T]) Len() int { return q.n }

// Clear drops all elements but keeps the allocated buffer.
func (q *Queue[T]) Clear() {
	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head, q.tail, q.n = 0, 0, 0
}

func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	for i := 0; i < q.n; i++ {
		next[i] = q.buf[(q.tail+i)%len(q.buf)]
	}
	q.buf = next
	q.tail = 0
	q.head = q.n
}
