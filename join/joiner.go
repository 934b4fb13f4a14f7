/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package join

import (
	"context"
	"fmt"
	"time"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/log/v2"
)

// Joiner correlates records of two streams by key and emits a MergedResult
// once both sides of a key have arrived. Acknowledgement of a record is
// deferred until its counterpart arrives.
//
// A Joiner is not safe for concurrent use. The runtime must deliver one record
// at a time per Joiner and route every record of a key to the same Joiner.
type Joiner struct {
	name          string
	designated    string
	store         *CorrelationStore
	port          OutputPort
	logger        log.Logger
	metrics       *Metrics
	maxPending    int
	maxPendingAge time.Duration
	now           func() time.Time
}

// Pending is a point in time view of the unmatched keys of a Joiner.
type Pending struct {
	Join       string `json:"join"`
	Other      []Key  `json:"other"`
	Designated []Key  `json:"designated"`
}

func NewJoiner(name, designated string, port OutputPort, options ...Option) *Joiner {
	opts := new(joinerOptions)
	opts.apply(options...)

	return &Joiner{
		name:          name,
		designated:    designated,
		store:         NewCorrelationStore(),
		port:          port,
		logger:        opts.logger.NewLog(log.Prefixed(fmt.Sprintf(`joiner-%s`, name))),
		metrics:       opts.metrics,
		maxPending:    opts.maxPending,
		maxPendingAge: opts.maxPendingAge,
		now:           opts.clock,
	}
}

func (j *Joiner) Name() string {
	return j.name
}

// Designated returns the source name whose records land on SideB.
func (j *Joiner) Designated() string {
	return j.designated
}

// Bounded reports whether unmatched records can be evicted.
func (j *Joiner) Bounded() bool {
	return j.maxPending > 0 || j.maxPendingAge > 0
}

// OnRecord consumes one record. Every error is reported to the port as a
// failure of the implicated records before it is returned, and panics raised
// by the port are recovered into errors.
func (j *Joiner) OnRecord(ctx context.Context, record *Record) (err error) {
	if record == nil {
		j.logger.ErrorContext(ctx, `nil record received`)
		return ErrMalformedRecord
	}

	if record.Tick {
		return nil
	}

	if record.Key.Empty() || record.Payload == nil {
		j.fail(ctx, ErrMalformedRecord, record)
		return ErrMalformedRecord
	}

	// records which still expect an ack or a fail from this call
	unsettled := []*Record{record}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf(`join [%s] recovered while processing key [%s] - %+v`, j.name, record.Key, r))
			if stored, ok := j.store.Get(record.Side, record.Key); ok && stored == record {
				j.store.Remove(record.Side, record.Key)
			}
			j.fail(ctx, err, unsettled...)
			j.reportPending()
		}
	}()

	if replaced := j.store.Put(record.Side, record.Key, record); replaced != nil && replaced != record {
		j.logger.WarnContext(ctx, fmt.Sprintf(`unmatched %s record for key [%s] replaced`, record.Side, record.Key))
		j.fail(ctx, ErrPendingReplaced, replaced)
	}

	counterpart, ok := j.store.TakeMatch(record.Side, record.Key)
	if !ok {
		j.logger.TraceContext(ctx, fmt.Sprintf(`%s record for key [%s] stored`, record.Side, record.Key))
		if j.maxPending > 0 {
			j.evict(ctx, 0, j.maxPending)
		}
		j.reportPending()
		return nil
	}

	j.store.Remove(record.Side, record.Key)
	unsettled = append(unsettled, counterpart)
	j.reportPending()

	other, designated := record, counterpart
	if record.Side == SideB {
		other, designated = counterpart, record
	}

	merged := MergedResult{
		Result:     other.Payload,
		ReturnInfo: designated.Payload,
	}

	if err := j.port.Emit(ctx, merged, []*Record{other, designated}); err != nil {
		err = errors.WithPrevious(err, fmt.Sprintf(`join [%s] emission failed for key [%s]`, j.name, record.Key))
		j.fail(ctx, err, unsettled...)
		return err
	}

	j.port.Ack(ctx, record)
	unsettled = unsettled[1:]
	j.port.Ack(ctx, counterpart)
	unsettled = unsettled[1:]

	j.metrics.matched.Count(1, map[string]string{`join`: j.name})
	if !counterpart.Arrived.IsZero() {
		j.metrics.matchLatency.Observe(float64(j.now().Sub(counterpart.Arrived).Nanoseconds()/1e3), map[string]string{
			`join`: j.name,
		})
	}

	j.logger.TraceContext(ctx, fmt.Sprintf(`key [%s] matched`, record.Key))

	return nil
}

// Evict fails the unmatched records which exceed the configured bounds and
// returns how many were evicted. It does nothing on an unbounded Joiner.
func (j *Joiner) Evict(ctx context.Context) int {
	if !j.Bounded() {
		return 0
	}

	n := j.evict(ctx, j.maxPendingAge, j.maxPending)
	if n > 0 {
		j.reportPending()
	}

	return n
}

func (j *Joiner) evict(ctx context.Context, maxAge time.Duration, maxCount int) int {
	evicted := j.store.Evict(j.now(), maxAge, maxCount)
	for _, record := range evicted {
		j.logger.WarnContext(ctx, fmt.Sprintf(`unmatched %s record for key [%s] evicted`, record.Side, record.Key))
		j.fail(ctx, ErrPendingExpired, record)
	}

	return len(evicted)
}

// Purge drops the unmatched records matching match without acking or failing
// them, their runtime has already given them up and will deliver them again.
func (j *Joiner) Purge(match func(record *Record) bool) int {
	purged := j.store.Purge(match)
	if len(purged) > 0 {
		j.logger.Info(fmt.Sprintf(`%d unmatched records purged`, len(purged)))
		j.reportPending()
	}

	return len(purged)
}

func (j *Joiner) Pending() Pending {
	return Pending{
		Join:       j.name,
		Other:      j.store.Keys(SideA),
		Designated: j.store.Keys(SideB),
	}
}

func (j *Joiner) fail(ctx context.Context, err error, records ...*Record) {
	j.logger.ErrorContext(ctx, fmt.Sprintf(`join [%s] failed due to %+v`, j.name, err))

	for _, record := range records {
		j.failRecord(ctx, record, err)
		j.metrics.failed.Count(1, map[string]string{
			`join`: j.name,
			`side`: record.Side.String(),
		})
	}
}

// failRecord hands a failed record to the port. A panicking port leaves the
// record unsettled, the panic never reaches the caller.
func (j *Joiner) failRecord(ctx context.Context, record *Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.ErrorContext(ctx, fmt.Sprintf(`port could not fail %s record for key [%s] - %+v`, record.Side, record.Key, r))
		}
	}()

	j.port.Fail(ctx, record, err)
}

func (j *Joiner) reportPending() {
	for _, side := range []Side{SideA, SideB} {
		j.metrics.pending.Count(float64(j.store.Len(side)), map[string]string{
			`join`: j.name,
			`side`: side.String(),
		})
	}
}
