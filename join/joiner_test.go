package join

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pickme-go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	designatedSource = `return-info`
	otherSource      = `results`
)

func designatedRecord(key Key, payload interface{}) *Record {
	return NewRecord(designatedSource, designatedSource, key, payload, nil)
}

func otherRecord(key Key, payload interface{}) *Record {
	return NewRecord(otherSource, designatedSource, key, payload, nil)
}

func newTestJoiner(port OutputPort, options ...Option) *Joiner {
	return NewJoiner(`test`, designatedSource, port, options...)
}

func countAcks(port *MockPort, record *Record) int {
	n := 0
	for _, r := range port.Acked() {
		if r == record {
			n++
		}
	}
	return n
}

func TestJoiner_OnRecord_MatchInEitherOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := Key(rapid.StringN(1, 16, 64).Draw(rt, `key`))
		p1 := rapid.String().Draw(rt, `designatedPayload`)
		p2 := rapid.String().Draw(rt, `otherPayload`)
		designatedFirst := rapid.Bool().Draw(rt, `designatedFirst`)

		port := NewMockPort()
		j := newTestJoiner(port)

		d := designatedRecord(key, p1)
		o := otherRecord(key, p2)
		first, second := o, d
		if designatedFirst {
			first, second = d, o
		}

		if err := j.OnRecord(context.Background(), first); err != nil {
			rt.Fatal(err)
		}
		if len(port.Emitted()) != 0 || len(port.Acked()) != 0 {
			rt.Fatalf(`first record must be held`)
		}

		if err := j.OnRecord(context.Background(), second); err != nil {
			rt.Fatal(err)
		}

		emitted := port.Emitted()
		if len(emitted) != 1 {
			rt.Fatalf(`expected exactly one emission, got %d`, len(emitted))
		}
		if emitted[0].Merged.Result != p2 || emitted[0].Merged.ReturnInfo != p1 {
			rt.Fatalf(`unexpected merged result %+v`, emitted[0].Merged)
		}
		if emitted[0].Anchors[0] != o || emitted[0].Anchors[1] != d {
			rt.Fatalf(`anchors must be [other, designated]`)
		}
		if countAcks(port, d) != 1 || countAcks(port, o) != 1 || len(port.Acked()) != 2 {
			rt.Fatalf(`both records must be acked exactly once`)
		}
		if len(port.Failed()) != 0 {
			rt.Fatalf(`unexpected failures %+v`, port.Failed())
		}
		if j.store.Len(SideA) != 0 || j.store.Len(SideB) != 0 {
			rt.Fatalf(`matched key must leave no pending state`)
		}
	})
}

func TestJoiner_OnRecord_SingleSideIsHeld(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := Key(`k-` + rapid.StringN(1, 16, 64).Draw(rt, `key`))
		designated := rapid.Bool().Draw(rt, `designated`)
		unrelated := rapid.IntRange(0, 50).Draw(rt, `unrelated`)

		port := NewMockPort()
		j := newTestJoiner(port)

		held := otherRecord(key, `payload`)
		if designated {
			held = designatedRecord(key, `payload`)
		}
		require.NoError(rt, j.OnRecord(context.Background(), held))

		for i := 0; i < unrelated; i++ {
			k := Key(fmt.Sprintf(`u-%d`, i))
			r := otherRecord(k, i)
			if rapid.Bool().Draw(rt, fmt.Sprintf(`side-%d`, i)) {
				r = designatedRecord(k, i)
			}
			require.NoError(rt, j.OnRecord(context.Background(), r))
		}

		if len(port.Emitted()) != 0 || len(port.Acked()) != 0 || len(port.Failed()) != 0 {
			rt.Fatalf(`no signal expected for unmatched keys`)
		}

		stored, ok := j.store.Get(held.Side, key)
		if !ok || stored != held {
			rt.Fatalf(`held record must stay pending`)
		}
	})
}

func TestJoiner_OnRecord_InterleavedKeys(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	request1 := designatedRecord(IntKey(1), `request-1`)
	request2 := designatedRecord(IntKey(2), `request-2`)
	response2 := otherRecord(IntKey(2), `response-2`)
	response1 := otherRecord(IntKey(1), `response-1`)

	for _, r := range []*Record{request1, request2, response2, response1} {
		require.NoError(t, j.OnRecord(ctx, r))
	}

	emitted := port.Emitted()
	require.Len(t, emitted, 2)
	assert.Equal(t, MergedResult{Result: `response-2`, ReturnInfo: `request-2`}, emitted[0].Merged)
	assert.Equal(t, MergedResult{Result: `response-1`, ReturnInfo: `request-1`}, emitted[1].Merged)
	assert.Equal(t, []*Record{response2, request2, response1, request1}, port.Acked())
}

func TestJoiner_OnRecord_FreshCycleAfterMatch(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	require.NoError(t, j.OnRecord(ctx, designatedRecord(`7`, `meta-1`)))
	require.NoError(t, j.OnRecord(ctx, otherRecord(`7`, `answer-1`)))

	second := otherRecord(`7`, `answer-2`)
	require.NoError(t, j.OnRecord(ctx, second))
	require.Len(t, port.Emitted(), 1, `a new record must not match the completed pair`)

	stored, ok := j.store.Get(SideA, `7`)
	require.True(t, ok)
	assert.Same(t, second, stored)

	require.NoError(t, j.OnRecord(ctx, designatedRecord(`7`, `meta-2`)))
	emitted := port.Emitted()
	require.Len(t, emitted, 2)
	assert.Equal(t, MergedResult{Result: `answer-2`, ReturnInfo: `meta-2`}, emitted[1].Merged)
	assert.Len(t, port.Acked(), 4)
}

func TestJoiner_OnRecord_ConcreteScenario(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	answer := otherRecord(IntKey(42), `query-answer`)
	meta := designatedRecord(IntKey(42), `meta`)

	require.NoError(t, j.OnRecord(ctx, answer))
	require.NoError(t, j.OnRecord(ctx, meta))

	emitted := port.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, []string{`result`, `return-info`}, emitted[0].Merged.Fields())
	assert.Equal(t, []interface{}{`query-answer`, `meta`}, emitted[0].Merged.Values())
	assert.Equal(t, []*Record{meta, answer}, port.Acked())
}

func TestJoiner_OnRecord_Malformed(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	noKey := otherRecord(``, `payload`)
	assert.Equal(t, ErrMalformedRecord, j.OnRecord(ctx, noKey))

	noPayload := designatedRecord(`1`, nil)
	assert.Equal(t, ErrMalformedRecord, j.OnRecord(ctx, noPayload))

	failed := port.Failed()
	require.Len(t, failed, 2)
	assert.Same(t, noKey, failed[0].Record)
	assert.Equal(t, ErrMalformedRecord, failed[0].Err)
	assert.Same(t, noPayload, failed[1].Record)
	assert.Equal(t, 0, j.store.Len(SideA))
	assert.Equal(t, 0, j.store.Len(SideB))

	assert.Equal(t, ErrMalformedRecord, j.OnRecord(ctx, nil))
	assert.Len(t, port.Failed(), 2)
}

func TestJoiner_OnRecord_TickIgnored(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)

	assert.NoError(t, j.OnRecord(context.Background(), NewTick()))
	assert.Empty(t, port.Emitted())
	assert.Empty(t, port.Acked())
	assert.Empty(t, port.Failed())
	assert.Equal(t, 0, j.store.Len(SideA)+j.store.Len(SideB))
}

func TestJoiner_OnRecord_EmissionFailure(t *testing.T) {
	port := NewMockPort()
	port.EmitErr = errors.New(`downstream unavailable`)
	j := newTestJoiner(port)
	ctx := context.Background()

	d := designatedRecord(`1`, `meta`)
	o := otherRecord(`1`, `answer`)

	require.NoError(t, j.OnRecord(ctx, d))
	assert.Error(t, j.OnRecord(ctx, o))

	failed := port.Failed()
	require.Len(t, failed, 2)
	assert.Same(t, o, failed[0].Record)
	assert.Same(t, d, failed[1].Record)
	assert.Empty(t, port.Acked())
	assert.Equal(t, 0, j.store.Len(SideA)+j.store.Len(SideB))
}

func TestJoiner_OnRecord_RecoversFromPanic(t *testing.T) {
	mock := NewMockPort()
	port := NewPort(EmitterFunc(func(ctx context.Context, merged MergedResult, anchors []*Record) error {
		panic(`collector closed`)
	}), mock)
	j := newTestJoiner(port)
	ctx := context.Background()

	d := designatedRecord(`1`, `meta`)
	o := otherRecord(`1`, `answer`)

	require.NoError(t, j.OnRecord(ctx, o))
	assert.Error(t, j.OnRecord(ctx, d))

	failed := mock.Failed()
	require.Len(t, failed, 2)
	assert.Same(t, d, failed[0].Record)
	assert.Same(t, o, failed[1].Record)
	assert.Equal(t, 0, j.store.Len(SideA)+j.store.Len(SideB))
}

// closedPort behaves like a port whose producer was closed under it.
type closedPort struct {
	emitErr error
	fails   int
}

func (p *closedPort) Emit(ctx context.Context, merged MergedResult, anchors []*Record) error {
	if p.emitErr != nil {
		return p.emitErr
	}
	panic(`send on closed channel`)
}

func (p *closedPort) Ack(ctx context.Context, record *Record) {
	panic(`send on closed channel`)
}

func (p *closedPort) Fail(ctx context.Context, record *Record, err error) {
	p.fails++
	panic(`send on closed channel`)
}

func TestJoiner_OnRecord_FailingPortNeverPanics(t *testing.T) {
	for name, port := range map[string]*closedPort{
		`emit panics`:        {},
		`emit returns error`: {emitErr: errors.New(`producer closed`)},
	} {
		t.Run(name, func(t *testing.T) {
			j := newTestJoiner(port)
			ctx := context.Background()

			require.NoError(t, j.OnRecord(ctx, otherRecord(`1`, `answer`)))
			assert.NotPanics(t, func() {
				assert.Error(t, j.OnRecord(ctx, designatedRecord(`1`, `meta`)))
			})
			assert.Equal(t, 2, port.fails)
			assert.Equal(t, 0, j.store.Len(SideA)+j.store.Len(SideB))
		})
	}
}

func TestJoiner_OnRecord_MalformedWithFailingPort(t *testing.T) {
	port := new(closedPort)
	j := newTestJoiner(port)

	assert.NotPanics(t, func() {
		assert.Equal(t, ErrMalformedRecord, j.OnRecord(context.Background(), otherRecord(``, `answer`)))
	})
	assert.Equal(t, 1, port.fails)
}

func TestJoiner_Purge(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	stale := NewRecord(otherSource, designatedSource, `1`, `answer`, `revoked`)
	kept := NewRecord(designatedSource, designatedSource, `2`, `meta`, `owned`)
	require.NoError(t, j.OnRecord(ctx, stale))
	require.NoError(t, j.OnRecord(ctx, kept))

	n := j.Purge(func(record *Record) bool {
		return record.Handle == `revoked`
	})
	assert.Equal(t, 1, n)
	assert.Empty(t, port.Failed())
	assert.Empty(t, port.Acked())
	assert.Equal(t, Pending{Join: `test`, Other: []Key{}, Designated: []Key{`2`}}, j.Pending())

	// the redelivered copy starts a fresh pending entry instead of replacing the stale one
	require.NoError(t, j.OnRecord(ctx, otherRecord(`1`, `answer`)))
	assert.Empty(t, port.Failed())
}

func TestJoiner_OnRecord_ReplacedPendingIsFailed(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	first := designatedRecord(`1`, `first`)
	second := designatedRecord(`1`, `second`)

	require.NoError(t, j.OnRecord(ctx, first))
	require.NoError(t, j.OnRecord(ctx, second))

	failed := port.Failed()
	require.Len(t, failed, 1)
	assert.Same(t, first, failed[0].Record)
	assert.Equal(t, ErrPendingReplaced, failed[0].Err)

	require.NoError(t, j.OnRecord(ctx, otherRecord(`1`, `answer`)))
	assert.Equal(t, `second`, port.Emitted()[0].Merged.ReturnInfo)
}

func TestJoiner_MaxPending(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port, WithMaxPending(2))
	ctx := context.Background()

	records := []*Record{otherRecord(`1`, 1), otherRecord(`2`, 2), otherRecord(`3`, 3)}
	for _, r := range records {
		require.NoError(t, j.OnRecord(ctx, r))
	}

	failed := port.Failed()
	require.Len(t, failed, 1)
	assert.Same(t, records[0], failed[0].Record)
	assert.Equal(t, ErrPendingExpired, failed[0].Err)
	assert.Equal(t, []Key{`2`, `3`}, j.Pending().Other)
}

func TestJoiner_Evict(t *testing.T) {
	now := time.Now()
	port := NewMockPort()
	j := newTestJoiner(port, WithMaxPendingAge(time.Minute), withClock(func() time.Time {
		return now
	}))
	ctx := context.Background()

	stale := designatedRecord(`1`, `stale`)
	stale.Arrived = now.Add(-2 * time.Minute)
	fresh := designatedRecord(`2`, `fresh`)
	fresh.Arrived = now

	require.NoError(t, j.OnRecord(ctx, stale))
	require.NoError(t, j.OnRecord(ctx, fresh))
	assert.Empty(t, port.Failed(), `age bound applies only on Evict`)

	assert.Equal(t, 1, j.Evict(ctx))
	failed := port.Failed()
	require.Len(t, failed, 1)
	assert.Same(t, stale, failed[0].Record)
	assert.Equal(t, []Key{`2`}, j.Pending().Designated)
}

func TestJoiner_EvictUnbounded(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)

	r := otherRecord(`1`, `p`)
	r.Arrived = time.Now().Add(-24 * time.Hour)
	require.NoError(t, j.OnRecord(context.Background(), r))

	assert.False(t, j.Bounded())
	assert.Equal(t, 0, j.Evict(context.Background()))
	assert.Empty(t, port.Failed())
}

func TestJoiner_Pending(t *testing.T) {
	port := NewMockPort()
	j := newTestJoiner(port)
	ctx := context.Background()

	require.NoError(t, j.OnRecord(ctx, otherRecord(`a`, 1)))
	require.NoError(t, j.OnRecord(ctx, designatedRecord(`b`, 2)))
	require.NoError(t, j.OnRecord(ctx, otherRecord(`c`, 3)))

	assert.Equal(t, Pending{
		Join:       `test`,
		Other:      []Key{`a`, `c`},
		Designated: []Key{`b`},
	}, j.Pending())
}

func TestSideOf(t *testing.T) {
	assert.Equal(t, SideB, SideOf(`spout`, `spout`))
	assert.Equal(t, SideA, SideOf(`bolt`, `spout`))
	assert.Equal(t, SideA, SideOf(``, `spout`))
	assert.Equal(t, SideA, SideB.Opposite())
}
