/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package join

import "time"

// CorrelationStore holds the unmatched records of both sides. It is not safe
// for concurrent use, a store belongs to exactly one Joiner and is only
// touched by the goroutine running that joiner.
type CorrelationStore struct {
	windows [2]*window
}

func NewCorrelationStore() *CorrelationStore {
	return &CorrelationStore{
		windows: [2]*window{newWindow(), newWindow()},
	}
}

// Put stores the record in the side's window. An unmatched record already
// stored under the same side and key is replaced and returned.
func (s *CorrelationStore) Put(side Side, key Key, record *Record) (replaced *Record) {
	return s.windows[side].write(key, record)
}

// TakeMatch removes and returns the record stored under key in the window
// opposite to side.
func (s *CorrelationStore) TakeMatch(side Side, key Key) (*Record, bool) {
	return s.windows[side.Opposite()].take(key)
}

func (s *CorrelationStore) Get(side Side, key Key) (*Record, bool) {
	return s.windows[side].read(key)
}

func (s *CorrelationStore) Remove(side Side, key Key) (*Record, bool) {
	return s.windows[side].take(key)
}

func (s *CorrelationStore) Len(side Side) int {
	return s.windows[side].len()
}

// Keys returns the pending keys of a side, oldest first.
func (s *CorrelationStore) Keys(side Side) []Key {
	return s.windows[side].keys()
}

// Evict removes records older than maxAge and, per side, the oldest records
// exceeding maxCount. Zero disables the respective bound.
func (s *CorrelationStore) Evict(now time.Time, maxAge time.Duration, maxCount int) []*Record {
	var evicted []*Record

	for _, w := range s.windows {
		for {
			key, oldest, ok := w.oldest()
			if !ok {
				break
			}

			expired := maxAge > 0 && !oldest.Arrived.IsZero() && now.Sub(oldest.Arrived) > maxAge
			overflow := maxCount > 0 && w.len() > maxCount
			if !expired && !overflow {
				break
			}

			w.take(key)
			evicted = append(evicted, oldest)
		}
	}

	return evicted
}

// Purge removes the records of both sides matching match.
func (s *CorrelationStore) Purge(match func(record *Record) bool) []*Record {
	var purged []*Record
	for _, w := range s.windows {
		purged = append(purged, w.purge(match)...)
	}

	return purged
}
