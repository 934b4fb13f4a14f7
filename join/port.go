/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package join

import "context"

// Emitter hands a merged result downstream. anchors are the consumed records
// the result was built from, in result order.
type Emitter interface {
	Emit(ctx context.Context, merged MergedResult, anchors []*Record) error
}

// Acknowledger reports the outcome of a consumed record back to the runtime.
type Acknowledger interface {
	Ack(ctx context.Context, record *Record)
	Fail(ctx context.Context, record *Record, err error)
}

type OutputPort interface {
	Emitter
	Acknowledger
}

type EmitterFunc func(ctx context.Context, merged MergedResult, anchors []*Record) error

func (f EmitterFunc) Emit(ctx context.Context, merged MergedResult, anchors []*Record) error {
	return f(ctx, merged, anchors)
}

// Emitters emits to every emitter in order and stops on the first error.
type Emitters []Emitter

func (es Emitters) Emit(ctx context.Context, merged MergedResult, anchors []*Record) error {
	for _, e := range es {
		if err := e.Emit(ctx, merged, anchors); err != nil {
			return err
		}
	}

	return nil
}

type port struct {
	Emitter
	Acknowledger
}

func NewPort(e Emitter, a Acknowledger) OutputPort {
	return &port{
		Emitter:      e,
		Acknowledger: a,
	}
}

// Runner schedules records on the joiner owning their key and reports the
// outcome through doneClb. Purge drops pending records the runtime no longer
// owns, without settling them.
type Runner interface {
	Run(ctx context.Context, record *Record, doneClb func(err error))
	Purge(match func(record *Record) bool) int
}
