/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package mongo

import (
	"context"
	"fmt"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrUnsupportedPayload = errors.New(`record payload is not a tuple`)

// Collection is the part of *mongo.Collection the sink writes through.
type Collection interface {
	Name() string
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// UpdateSink writes tuples to a collection as filtered updates.
type UpdateSink struct {
	collection Collection
	filter     FilterCreator
	mapper     UpdateMapper
	upsert     bool
	many       bool
	logger     log.Logger
}

func NewUpdateSink(collection Collection, filter FilterCreator, mapper UpdateMapper, opts ...Option) (*UpdateSink, error) {
	if collection == nil {
		return nil, errors.New(`mongo sink collection cannot be nil`)
	}

	if filter == nil {
		return nil, errors.New(`mongo sink filter creator cannot be nil`)
	}

	if mapper == nil {
		return nil, errors.New(`mongo sink update mapper cannot be nil`)
	}

	o := new(sinkOptions)
	o.apply(opts...)

	return &UpdateSink{
		collection: collection,
		filter:     filter,
		mapper:     mapper,
		upsert:     o.upsert,
		many:       o.many,
		logger:     o.logger.NewLog(log.Prefixed(fmt.Sprintf(`mongo-sink-%s`, collection.Name()))),
	}, nil
}

func (s *UpdateSink) Name() string {
	return s.collection.Name()
}

func (s *UpdateSink) Type() string {
	return `mongo`
}

// Update applies the mapped update to the documents selected by the filter.
func (s *UpdateSink) Update(ctx context.Context, in Tuple) (*mongo.UpdateResult, error) {
	doc, err := s.mapper(in)
	if err != nil {
		return nil, errors.WithPrevious(err, `update mapping failed`)
	}

	filter, err := s.filter(in)
	if err != nil {
		return nil, errors.WithPrevious(err, `filter creation failed`)
	}

	opts := options.Update().SetUpsert(s.upsert)

	var res *mongo.UpdateResult
	if s.many {
		res, err = s.collection.UpdateMany(ctx, filter, doc, opts)
	} else {
		res, err = s.collection.UpdateOne(ctx, filter, doc, opts)
	}
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`update on [%s] failed`, s.collection.Name()))
	}

	return res, nil
}

// Execute writes a record carrying a tuple payload and settles it on ack.
// Ticks are ignored.
func (s *UpdateSink) Execute(ctx context.Context, record *join.Record, ack join.Acknowledger) {
	if record.Tick {
		return
	}

	in, ok := record.Payload.(Tuple)
	if !ok {
		s.logger.ErrorContext(ctx, fmt.Sprintf(`record [%s] - %+v`, record.Key, ErrUnsupportedPayload))
		ack.Fail(ctx, record, ErrUnsupportedPayload)
		return
	}

	if _, err := s.Update(ctx, in); err != nil {
		s.logger.ErrorContext(ctx, fmt.Sprintf(`record [%s] - %+v`, record.Key, err))
		ack.Fail(ctx, record, err)
		return
	}

	ack.Ack(ctx, record)
}

// Emit persists a merged join result. The joiner fails both anchors when it
// returns an error.
func (s *UpdateSink) Emit(ctx context.Context, merged join.MergedResult, _ []*join.Record) error {
	_, err := s.Update(ctx, merged)
	return err
}
