/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
)

const (
	HeaderError     = `k-join-error`
	HeaderTopic     = `k-join-topic`
	HeaderPartition = `k-join-partition`
	HeaderOffset    = `k-join-offset`
)

// handle is the reliability token of a consumed message.
type handle struct {
	tracker *OffsetTracker
	msg     *sarama.ConsumerMessage
}

// Port produces merged results to the output topic and settles consumed
// messages through their partition's OffsetTracker.
type Port struct {
	producer sarama.SyncProducer
	topics   Topics
	fields   *encoding.FieldList
	sinks    join.Emitters
	logger   log.Logger
	metrics  struct {
		produceLatency metrics.Observer
		failed         metrics.Counter
	}
}

// NewPort builds the port of a kafka runtime. Merged results are handed to the
// sinks before they are produced, so a failed produce retried after
// redelivery repeats only the idempotent sink update. Delivery to the output
// topic is at-least-once, a crash between produce and commit produces the
// result again.
func NewPort(producer sarama.SyncProducer, topics Topics, logger log.Logger, reporter metrics.Reporter, sinks ...join.Emitter) *Port {
	p := &Port{
		producer: producer,
		topics:   topics,
		fields:   encoding.NewFieldList(join.OutputFields),
		sinks:    sinks,
		logger:   logger.NewLog(log.Prefixed(`kafka-port`)),
	}

	p.metrics.produceLatency = reporter.Observer(metrics.MetricConf{
		Path:   `k_join_kafka_produce_latency_microseconds`,
		Labels: []string{`topic`},
	})
	p.metrics.failed = reporter.Counter(metrics.MetricConf{
		Path:   `k_join_kafka_failed_count`,
		Labels: []string{`topic`},
	})

	return p
}

func (p *Port) Emit(ctx context.Context, merged join.MergedResult, anchors []*join.Record) error {
	value, err := p.fields.Encode(merged)
	if err != nil {
		return errors.WithPrevious(err, `merged result encode failed`)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topics.Output,
		Value: sarama.ByteEncoder(value),
	}

	if len(anchors) > 0 {
		msg.Key = sarama.StringEncoder(anchors[0].Key.String())
	}

	if err := p.sinks.Emit(ctx, merged, anchors); err != nil {
		return err
	}

	return p.send(ctx, msg)
}

func (p *Port) Ack(ctx context.Context, record *join.Record) {
	p.release(ctx, record)
}

// Fail forwards the consumed message to the failure topic with the error in
// its headers and then releases its offset. When the forward fails the offset
// stays unreleased so the message is consumed again after a restart.
func (p *Port) Fail(ctx context.Context, record *join.Record, err error) {
	h, ok := record.Handle.(*handle)
	if !ok {
		p.logger.ErrorContext(ctx, fmt.Sprintf(`record [%s] has no kafka handle, failed due to %+v`, record.Key, err))
		return
	}

	p.metrics.failed.Count(1, map[string]string{`topic`: h.msg.Topic})

	if p.topics.Failure == `` {
		p.logger.WarnContext(ctx, fmt.Sprintf(`%s[%d]@%d dropped due to %+v`, h.msg.Topic, h.msg.Partition, h.msg.Offset, err))
		p.release(ctx, record)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topics.Failure,
		Key:   sarama.ByteEncoder(h.msg.Key),
		Value: sarama.ByteEncoder(h.msg.Value),
		Headers: append([]sarama.RecordHeader{
			{Key: []byte(HeaderError), Value: []byte(err.Error())},
			{Key: []byte(HeaderTopic), Value: []byte(h.msg.Topic)},
			{Key: []byte(HeaderPartition), Value: []byte(fmt.Sprint(h.msg.Partition))},
			{Key: []byte(HeaderOffset), Value: []byte(fmt.Sprint(h.msg.Offset))},
		}, headers(h.msg.Headers)...),
	}

	if sendErr := p.send(ctx, msg); sendErr != nil {
		p.logger.ErrorContext(ctx, fmt.Sprintf(`%s[%d]@%d cannot be forwarded to [%s] - %+v`,
			h.msg.Topic, h.msg.Partition, h.msg.Offset, p.topics.Failure, sendErr))
		return
	}

	p.release(ctx, record)
}

func (p *Port) send(ctx context.Context, msg *sarama.ProducerMessage) error {
	t := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot produce to [%s]`, msg.Topic))
	}

	p.metrics.produceLatency.Observe(float64(time.Since(t).Nanoseconds()/1e3), map[string]string{
		`topic`: msg.Topic,
	})

	p.logger.TraceContext(ctx, fmt.Sprintf(`delivered message to topic %s [%d] at offset %d`, msg.Topic, partition, offset))

	return nil
}

func (p *Port) release(ctx context.Context, record *join.Record) {
	h, ok := record.Handle.(*handle)
	if !ok {
		return
	}

	if marked := h.tracker.Done(h.msg.Offset); marked > -1 {
		p.logger.TraceContext(ctx, fmt.Sprintf(`%s[%d] marked at %d`, h.msg.Topic, h.msg.Partition, marked))
	}
}

func headers(in []*sarama.RecordHeader) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(in))
	for _, h := range in {
		if h != nil {
			out = append(out, *h)
		}
	}

	return out
}
