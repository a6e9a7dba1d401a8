package sv

import (
	"fmt"

	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

// ReliableQueue is the per-connection FIFO of reliable messages.
type ReliableQueue struct {
	msgs  [][]byte
	bytes int
	limit int
}

// NewReliableQueue returns a queue holding at most limit bytes.
func NewReliableQueue(limit int) *ReliableQueue {
	return &ReliableQueue{limit: limit}
}

// Push appends a message. Exceeding the limit is fatal for the connection
// and reported as ErrResourceExhausted.
func (q *ReliableQueue) Push(m []byte) error {
	if len(m) == 0 {
		return nil
	}
	if q.bytes+len(m) > q.limit {
		return fmt.Errorf("reliable queue: %d+%d bytes over %d: %w", q.bytes, len(m), q.limit, proto.ErrResourceExhausted)
	}
	q.msgs = append(q.msgs, append([]byte(nil), m...))
	q.bytes += len(m)
	return nil
}

// Len returns the number of queued messages.
func (q *ReliableQueue) Len() int { return len(q.msgs) }

// Bytes returns the queued byte count.
func (q *ReliableQueue) Bytes() int { return q.bytes }

// HeadSize returns the size of the oldest message, or 0.
func (q *ReliableQueue) HeadSize() int {
	if len(q.msgs) == 0 {
		return 0
	}
	return len(q.msgs[0])
}

// PeekBlock returns the size of the block PopBlock(max) would return.
func (q *ReliableQueue) PeekBlock(max int) int {
	n := 0
	for i, m := range q.msgs {
		if n+len(m) > max && i > 0 {
			break
		}
		n += len(m)
		if n >= max {
			break
		}
	}
	return n
}

// PopBlock removes messages in order while they fit in max bytes and
// returns them concatenated. The head message is always taken so a single
// large message cannot stall the queue; callers bound it by the transport
// limit.
func (q *ReliableQueue) PopBlock(max int) []byte {
	var block []byte
	i := 0
	for ; i < len(q.msgs); i++ {
		m := q.msgs[i]
		if len(block)+len(m) > max && i > 0 {
			break
		}
		block = append(block, m...)
		if len(block) >= max {
			i++
			break
		}
	}
	q.msgs = q.msgs[i:]
	q.bytes -= len(block)
	return block
}

// Clear frees every queued message.
func (q *ReliableQueue) Clear() {
	q.msgs = nil
	q.bytes = 0
}

// Category orders unreliable messages for dropping. Lower categories are
// dropped first.
type Category uint8

const (
	CategoryTempEntity Category = iota
	CategoryEntitySound
	CategoryPositionedSound
	CategoryOther
	NumCategories
)

func (c Category) String() string {
	switch c {
	case CategoryTempEntity:
		return "temp_entity"
	case CategoryEntitySound:
		return "entity_sound"
	case CategoryPositionedSound:
		return "positioned_sound"
	}
	return "other"
}

// UnreliableQueue collects one tick's unreliable messages by category.
type UnreliableQueue struct {
	cats  [NumCategories][][]byte
	sizes [NumCategories]int
	limit int
}

// NewUnreliableQueue returns a queue holding at most limit bytes.
func NewUnreliableQueue(limit int) *UnreliableQueue {
	return &UnreliableQueue{limit: limit}
}

// Bytes returns the queued byte count.
func (q *UnreliableQueue) Bytes() int {
	n := 0
	for _, s := range q.sizes {
		n += s
	}
	return n
}

// Push queues m. When the queue is full, messages of lower categories are
// evicted to make room; if none are left, m itself is dropped. It returns
// the number of messages lost per category.
func (q *UnreliableQueue) Push(cat Category, m []byte) (lost [NumCategories]int) {
	if cat >= NumCategories {
		cat = CategoryOther
	}
	for q.Bytes()+len(m) > q.limit {
		c, ok := q.lowest(cat)
		if !ok {
			lost[cat]++
			return lost
		}
		q.sizes[c] -= len(q.cats[c][0])
		q.cats[c] = q.cats[c][1:]
		lost[c]++
	}
	q.cats[cat] = append(q.cats[cat], append([]byte(nil), m...))
	q.sizes[cat] += len(m)
	return lost
}

// lowest returns the lowest non-empty category below or at ceiling.
func (q *UnreliableQueue) lowest(ceiling Category) (Category, bool) {
	for c := Category(0); c <= ceiling; c++ {
		if len(q.cats[c]) > 0 {
			return c, true
		}
	}
	return 0, false
}

// Pack returns as many messages as fit in budget. Whole categories are
// dropped lowest first until the rest fits; the drop counts are returned
// per category.
func (q *UnreliableQueue) Pack(budget int) ([]byte, [NumCategories]int) {
	var dropped [NumCategories]int
	total := q.Bytes()
	c := Category(0)
	for total > budget && c < NumCategories {
		for len(q.cats[c]) > 0 && total > budget {
			total -= len(q.cats[c][0])
			q.sizes[c] -= len(q.cats[c][0])
			q.cats[c] = q.cats[c][1:]
			dropped[c]++
		}
		c++
	}
	out := make([]byte, 0, total)
	for c := NumCategories; c > 0; c-- {
		for _, m := range q.cats[c-1] {
			out = append(out, m...)
		}
	}
	return out, dropped
}

// Clear empties the queue. It runs at the end of every tick.
func (q *UnreliableQueue) Clear() {
	for i := range q.cats {
		q.cats[i] = q.cats[i][:0]
		q.sizes[i] = 0
	}
}
