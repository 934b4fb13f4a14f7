package kafka

import (
	"sort"
	"sync"
)

// OffsetMarker is the part of sarama.ConsumerGroupSession that commits offsets.
type OffsetMarker interface {
	MarkOffset(topic string, partition int32, offset int64, metadata string)
}

// OffsetTracker follows the in-flight records of one claimed partition. Joins
// settle records out of order, so the committed offset only moves past a
// record once every earlier record of the partition is settled as well.
type OffsetTracker struct {
	topic     string
	partition int32
	marker    OffsetMarker
	mu        *sync.Mutex
	inFlight  []int64
	done      map[int64]bool
}

func NewOffsetTracker(marker OffsetMarker, topic string, partition int32) *OffsetTracker {
	return &OffsetTracker{
		topic:     topic,
		partition: partition,
		marker:    marker,
		mu:        new(sync.Mutex),
		done:      make(map[int64]bool),
	}
}

// Track registers a consumed offset. Offsets must be tracked in consume order.
func (t *OffsetTracker) Track(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inFlight = append(t.inFlight, offset)
}

// Done settles an offset and marks the session up to the highest offset which
// has no unsettled record before it. It returns the marked offset, or -1 when
// nothing could be marked.
func (t *OffsetTracker) Done(offset int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.inFlight), func(i int) bool {
		return t.inFlight[i] >= offset
	})
	if i == len(t.inFlight) || t.inFlight[i] != offset {
		return -1
	}

	t.done[offset] = true

	n := 0
	for n < len(t.inFlight) && t.done[t.inFlight[n]] {
		delete(t.done, t.inFlight[n])
		n++
	}

	if n == 0 {
		return -1
	}

	last := t.inFlight[n-1]
	t.inFlight = t.inFlight[n:]

	// the committed offset is the next one to consume
	t.marker.MarkOffset(t.topic, t.partition, last+1, ``)

	return last + 1
}

// Pending returns the number of tracked offsets not yet committed.
func (t *OffsetTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.inFlight)
}
