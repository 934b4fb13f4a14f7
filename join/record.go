/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package join

import (
	"time"
)

type Side int

const (
	// SideA holds records coming from every source other than the designated one
	SideA Side = iota
	// SideB holds records coming from the designated source
	SideB
)

func (s Side) String() string {
	if s == SideB {
		return `designated`
	}

	return `other`
}

func (s Side) Opposite() Side {
	if s == SideB {
		return SideA
	}

	return SideB
}

// SideOf classifies a record by its origin component name.
func SideOf(source, designated string) Side {
	if source == designated {
		return SideB
	}

	return SideA
}

// OutputFields are the field names of a MergedResult, in emission order.
var OutputFields = []string{`result`, `return-info`}

type Record struct {
	Side    Side
	Key     Key
	Payload interface{}
	// Source is the origin component (topic, queue or upstream name)
	Source string
	// Handle is the runtime's reliability token, the joiner never inspects it
	Handle  interface{}
	Tick    bool
	Arrived time.Time
}

// NewRecord builds a record and derives its side from the designated source name.
func NewRecord(source, designated string, key Key, payload interface{}, handle interface{}) *Record {
	return &Record{
		Side:    SideOf(source, designated),
		Key:     key,
		Payload: payload,
		Source:  source,
		Handle:  handle,
		Arrived: time.Now(),
	}
}

// NewTick creates a heartbeat pseudo-record. Joiners ignore ticks.
func NewTick() *Record {
	return &Record{
		Tick:    true,
		Arrived: time.Now(),
	}
}

// MergedResult pairs the payloads of a matched key.
type MergedResult struct {
	// Result is the payload of the other side's record
	Result interface{}
	// ReturnInfo is the payload of the designated side's record
	ReturnInfo interface{}
}

func (m MergedResult) Fields() []string {
	return OutputFields
}

func (m MergedResult) Values() []interface{} {
	return []interface{}{m.Result, m.ReturnInfo}
}
