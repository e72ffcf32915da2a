package threadpool

import (
	"sync"
)

// queueChunkSize is the number of tokens per node in the tokenQueue linked
// list. 128 tokens * 16 bytes/token + overhead = ~2KB per chunk.
const queueChunkSize = 128

// tokenQueue is a chunked linked-list FIFO of pending submissions.
//
// Thread Safety: This struct is NOT thread-safe.
// The caller must hold Pool.mu, which also guards the slot free list.
type tokenQueue struct {
	head   *queueChunk
	tail   *queueChunk
	length int
}

// queueChunkPool avoids reallocating chunks under bursty submission.
var queueChunkPool = sync.Pool{
	New: func() any {
		return &queueChunk{}
	},
}

// queueChunk is a fixed-size node in the chunked linked-list.
// It uses readPos/pos cursors for O(1) push/pop without shifting.
type queueChunk struct {
	tokens  [queueChunkSize]CompletionToken
	next    *queueChunk
	readPos int // first unread slot
	pos     int // first unused slot
}

func newQueueChunk() *queueChunk {
	c := queueChunkPool.Get().(*queueChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnQueueChunk clears token references, so recycled chunks don't keep
// slots (and through them, tasks) reachable.
func returnQueueChunk(c *queueChunk) {
	for i := 0; i < c.pos; i++ {
		c.tokens[i] = CompletionToken{}
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	queueChunkPool.Put(c)
}

// Push adds a token to the back of the queue.
//
// CALLER MUST HOLD Pool.mu.
func (q *tokenQueue) Push(token CompletionToken) {
	if q.tail == nil {
		q.tail = newQueueChunk()
		q.head = q.tail
	}

	if q.tail.pos == len(q.tail.tokens) {
		next := newQueueChunk()
		q.tail.next = next
		q.tail = next
	}

	q.tail.tokens[q.tail.pos] = token
	q.tail.pos++
	q.length++
}

// Pop removes and returns the token at the front of the queue, returning
// false if the queue is empty.
//
// CALLER MUST HOLD Pool.mu.
func (q *tokenQueue) Pop() (CompletionToken, bool) {
	if q.head == nil || q.length == 0 {
		return CompletionToken{}, false
	}

	if q.head.readPos >= q.head.pos {
		// head exhausted, length > 0 guarantees a next chunk
		old := q.head
		q.head = q.head.next
		returnQueueChunk(old)
	}

	token := q.head.tokens[q.head.readPos]
	q.head.tokens[q.head.readPos] = CompletionToken{}
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			// reuse the only chunk
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = q.head.next
			returnQueueChunk(old)
		}
	}

	return token, true
}
