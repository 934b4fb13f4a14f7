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

	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/graph"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	saramaMetrics "github.com/rcrowley/go-metrics"
)

func init() {
	saramaMetrics.UseNilMetrics = true
}

// Runtime consumes the input topics with a consumer group and feeds the
// records to a Runner.
type Runtime struct {
	config   *Config
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer
	port     *Port
	logger   log.Logger
}

func NewRuntime(config *Config, sinks ...join.Emitter) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid kafka config`)
	}

	admin, err := NewAdmin(config.BootstrapServers, config.Sarama, config.Logger)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] admin init failed`, config.Id))
	}

	err = prepareTopics(admin, config.Topics, config.Logger)
	admin.Close()
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] topics are not ready`, config.Id))
	}

	producer, err := sarama.NewSyncProducer(config.BootstrapServers, config.Sarama)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] producer init failed`, config.Id))
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupId, config.Sarama)
	if err != nil {
		_ = producer.Close()
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] consumer group init failed`, config.Id))
	}

	return newRuntime(config, group, producer, sinks...), nil
}

func newRuntime(config *Config, group sarama.ConsumerGroup, producer sarama.SyncProducer, sinks ...join.Emitter) *Runtime {
	logger := config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`kafka-runtime-%s`, config.Id)))

	return &Runtime{
		config:   config,
		group:    group,
		producer: producer,
		port:     NewPort(producer, config.Topics, logger, config.MetricsReporter, sinks...),
		logger:   logger,
	}
}

func (r *Runtime) Name() string {
	return `kafka`
}

func (r *Runtime) Sources() []string {
	return r.config.Sources()
}

func (r *Runtime) Designated() string {
	return r.config.Topics.Designated
}

func (r *Runtime) Sinks() []graph.Sink {
	sinks := []graph.Sink{{Name: r.config.Topics.Output, Type: `kafka`}}
	if r.config.Topics.Failure != `` {
		sinks = append(sinks, graph.Sink{Name: r.config.Topics.Failure, Type: `kafka-failure`})
	}

	for _, s := range r.port.sinks {
		sinks = append(sinks, graph.SinksOf(s)...)
	}

	return sinks
}

// Port is the output port joiners fed by this runtime must use.
func (r *Runtime) Port() join.OutputPort {
	return r.port
}

// Run consumes until ctx is cancelled or the group is closed.
func (r *Runtime) Run(ctx context.Context, runner join.Runner) error {
	handler := newGroupHandler(r.config.Topics.Designated, r.config.ValueDecoder, runner, r.logger, r.config.MetricsReporter)

	go func() {
		for err := range r.group.Errors() {
			r.logger.Error(fmt.Sprintf(`consumer group error - %+v`, err))
		}
	}()

	r.logger.Info(fmt.Sprintf(`consuming %v as group [%s]`, r.config.Sources(), r.config.GroupId))

	for {
		if err := r.group.Consume(ctx, r.config.Sources(), handler); err != nil {
			if err == sarama.ErrClosedConsumerGroup {
				return nil
			}
			return errors.WithPrevious(err, `consume failed`)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Stop closes the consumer group so Run returns, the producer stays open for
// the records still queued in the joiners.
func (r *Runtime) Stop() error {
	if err := r.group.Close(); err != nil {
		return errors.WithPrevious(err, `consumer group close failed`)
	}

	r.logger.Info(`consumer group closed`)

	return nil
}

// Close closes the consumer group if Stop was not called and then the producer.
// The port cannot be used afterwards.
func (r *Runtime) Close() error {
	defer r.logger.Info(`runtime closed`)

	if err := r.group.Close(); err != nil {
		return errors.WithPrevious(err, `consumer group close failed`)
	}

	if err := r.producer.Close(); err != nil {
		return errors.WithPrevious(err, `producer close failed`)
	}

	return nil
}
