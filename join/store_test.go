package join

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationStore_TakeMatch(t *testing.T) {
	s := NewCorrelationStore()
	r := &Record{Side: SideA, Key: `1`, Payload: `a`}

	s.Put(SideA, `1`, r)

	_, ok := s.TakeMatch(SideA, `1`)
	assert.False(t, ok, `take match must look at the opposite side`)

	got, ok := s.TakeMatch(SideB, `1`)
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.Equal(t, 0, s.Len(SideA))

	_, ok = s.TakeMatch(SideB, `1`)
	assert.False(t, ok)
}

func TestCorrelationStore_PutReplaces(t *testing.T) {
	s := NewCorrelationStore()
	first := &Record{Side: SideB, Key: `1`, Payload: `first`}
	second := &Record{Side: SideB, Key: `1`, Payload: `second`}

	assert.Nil(t, s.Put(SideB, `1`, first))
	assert.Same(t, first, s.Put(SideB, `1`, second))
	assert.Equal(t, 1, s.Len(SideB))

	got, ok := s.Get(SideB, `1`)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestCorrelationStore_SidesAreIndependent(t *testing.T) {
	s := NewCorrelationStore()
	s.Put(SideA, `1`, &Record{Side: SideA, Key: `1`})
	s.Put(SideB, `2`, &Record{Side: SideB, Key: `2`})

	assert.Equal(t, []Key{`1`}, s.Keys(SideA))
	assert.Equal(t, []Key{`2`}, s.Keys(SideB))

	_, ok := s.Remove(SideA, `2`)
	assert.False(t, ok)
	_, ok = s.Remove(SideB, `2`)
	assert.True(t, ok)
	assert.Equal(t, 0, s.Len(SideB))
}

func TestCorrelationStore_KeysInArrivalOrder(t *testing.T) {
	s := NewCorrelationStore()
	for _, k := range []Key{`c`, `a`, `b`} {
		s.Put(SideA, k, &Record{Key: k})
	}

	// rewriting a key moves it to the back
	s.Put(SideA, `c`, &Record{Key: `c`})

	assert.Equal(t, []Key{`a`, `b`, `c`}, s.Keys(SideA))
}

func TestCorrelationStore_Evict(t *testing.T) {
	now := time.Now()
	s := NewCorrelationStore()

	old := &Record{Key: `old`, Arrived: now.Add(-time.Minute)}
	fresh := &Record{Key: `fresh`, Arrived: now}
	s.Put(SideA, `old`, old)
	s.Put(SideA, `fresh`, fresh)
	s.Put(SideB, `undated`, &Record{Key: `undated`})

	evicted := s.Evict(now, 30*time.Second, 0)
	require.Len(t, evicted, 1)
	assert.Same(t, old, evicted[0])
	assert.Equal(t, []Key{`fresh`}, s.Keys(SideA))
	assert.Equal(t, 1, s.Len(SideB))
}

func TestCorrelationStore_EvictOverflow(t *testing.T) {
	s := NewCorrelationStore()
	for _, k := range []Key{`1`, `2`, `3`, `4`} {
		s.Put(SideB, k, &Record{Key: k})
	}
	s.Put(SideA, `5`, &Record{Key: `5`})

	evicted := s.Evict(time.Now(), 0, 2)
	require.Len(t, evicted, 2)
	assert.Equal(t, Key(`1`), evicted[0].Key)
	assert.Equal(t, Key(`2`), evicted[1].Key)
	assert.Equal(t, []Key{`3`, `4`}, s.Keys(SideB))
	assert.Equal(t, 1, s.Len(SideA))
}

func TestCorrelationStore_EvictUnbounded(t *testing.T) {
	s := NewCorrelationStore()
	s.Put(SideA, `1`, &Record{Key: `1`, Arrived: time.Now().Add(-time.Hour)})

	assert.Empty(t, s.Evict(time.Now(), 0, 0))
	assert.Equal(t, 1, s.Len(SideA))
}

func TestCorrelationStore_Purge(t *testing.T) {
	s := NewCorrelationStore()
	s.Put(SideA, `1`, &Record{Key: `1`, Handle: 0})
	s.Put(SideA, `2`, &Record{Key: `2`, Handle: 1})
	s.Put(SideB, `3`, &Record{Key: `3`, Handle: 0})

	purged := s.Purge(func(record *Record) bool {
		return record.Handle == 0
	})

	require.Len(t, purged, 2)
	assert.Equal(t, Key(`1`), purged[0].Key)
	assert.Equal(t, Key(`3`), purged[1].Key)
	assert.Equal(t, []Key{`2`}, s.Keys(SideA))
	assert.Equal(t, 0, s.Len(SideB))

	_, ok := s.TakeMatch(SideB, `1`)
	assert.False(t, ok)
}
