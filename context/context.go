/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package context

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pickme-go/traceable-context"
)

var recordMeta = `rc_meta`

// RecordMeta describes where an inbound record was consumed from.
type RecordMeta struct {
	Source    string
	Partition int32
	Offset    int64
	Key       string
	Timestamp time.Time
}

// FromRecord returns a traceable context with a fresh UUID which carries the
// record's metadata.
func FromRecord(parent context.Context, meta *RecordMeta) context.Context {
	if parent == nil {
		parent = traceable_context.WithUUID(uuid.New())
	}

	return traceable_context.WithValue(parent, &recordMeta, meta)
}

// New starts a traceable context for a record consumed by a runtime.
func New(meta *RecordMeta) context.Context {
	return FromRecord(nil, meta)
}

func Meta(ctx context.Context) (*RecordMeta, bool) {
	meta, ok := ctx.Value(&recordMeta).(*RecordMeta)
	return meta, ok
}
