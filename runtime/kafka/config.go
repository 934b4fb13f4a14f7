/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
)

type Topics struct {
	// Designated is the topic whose records carry the return info
	Designated string
	// Other topics carry the results
	Other []string
	// Output receives merged results, encoded as a result/return-info JSON object
	Output string
	// Failure receives failed input records, empty disables it
	Failure string
	// Create creates missing output topics on start
	Create            bool
	ReplicationFactor int16
}

type Config struct {
	Id               string
	BootstrapServers []string
	GroupId          string
	Topics           Topics
	// ValueDecoder decodes input record values into join payloads
	ValueDecoder encoding.Encoder
	// Sarama is used for both the consumer group and the producer
	Sarama          *sarama.Config
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	c := &Config{
		Id:              `k-join`,
		Topics:          Topics{ReplicationFactor: 1},
		ValueDecoder:    encoding.StringEncoder{},
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
	}

	c.Sarama = sarama.NewConfig()
	c.Sarama.Version = sarama.V2_0_0_0
	c.Sarama.ClientID = c.Id
	c.Sarama.Producer.Return.Successes = true
	c.Sarama.Producer.RequiredAcks = sarama.WaitForAll
	c.Sarama.Consumer.Return.Errors = true
	c.Sarama.Consumer.Offsets.Initial = sarama.OffsetOldest
	// co-partitioned input topics must land on the same member
	c.Sarama.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange

	return c
}

// Sources returns every input topic, the designated one first.
func (c *Config) Sources() []string {
	return append([]string{c.Topics.Designated}, c.Topics.Other...)
}

func (c *Config) Validate() error {
	if len(c.BootstrapServers) < 1 {
		return errors.New(`[BootstrapServers] cannot be empty`)
	}

	if c.GroupId == `` {
		return errors.New(`[GroupId] cannot be empty`)
	}

	if c.Topics.Designated == `` {
		return errors.New(`[Topics.Designated] cannot be empty`)
	}

	if len(c.Topics.Other) < 1 {
		return errors.New(`[Topics.Other] cannot be empty`)
	}

	for _, t := range c.Topics.Other {
		if t == c.Topics.Designated {
			return errors.New(`[Topics.Other] cannot contain the designated topic`)
		}
	}

	if c.Topics.Output == `` {
		return errors.New(`[Topics.Output] cannot be empty`)
	}

	if c.Topics.Create && c.Topics.ReplicationFactor < 1 {
		return errors.New(`[Topics.ReplicationFactor] must be at least 1`)
	}

	if c.ValueDecoder == nil {
		return errors.New(`[ValueDecoder] cannot be nil`)
	}

	if c.Sarama == nil {
		return errors.New(`[Sarama] cannot be nil`)
	}

	if !c.Sarama.Producer.Return.Successes {
		return errors.New(`[Sarama.Producer.Return.Successes] must be enabled for a sync producer`)
	}

	if !c.Sarama.Version.IsAtLeast(sarama.V0_11_0_0) {
		return errors.New(`[Sarama.Version] must be at least 0.11 for record headers`)
	}

	return c.Sarama.Validate()
}
