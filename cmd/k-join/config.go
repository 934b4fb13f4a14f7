package main

import (
	"fmt"
	"strings"

	"github.com/pickme-go/errors"
	kjoin "github.com/pickme-go/k-join"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/k-join/runtime/amqp"
	"github.com/pickme-go/k-join/runtime/kafka"
	"github.com/pickme-go/k-join/sink/mongo"
	"github.com/pickme-go/log/v2"
	"gopkg.in/ini.v1"
)

const (
	runtimeKafka = `kafka`
	runtimeAmqp  = `amqp`
)

type appConfig struct {
	Runtime  string
	LogLevel log.Level
	Metrics  struct {
		Enabled bool
		System  string
	}
	Join  *kjoin.JoinBuilderConfig
	Kafka *kafka.Config
	Amqp  *amqp.Config
	// Mongo is nil when the [mongo] section is absent
	Mongo *mongo.Config
}

// loadConfig reads an ini file (or its bytes) with the sections [join],
// [kafka], [amqp], [mongo], [http] and [metrics].
func loadConfig(source interface{}) (*appConfig, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot read config`)
	}

	c := new(appConfig)

	sec := f.Section(`join`)
	c.Runtime = sec.Key(`runtime`).In(runtimeKafka, []string{runtimeKafka, runtimeAmqp})
	c.LogLevel = logLevel(sec.Key(`log_level`).MustString(`info`))

	c.Join = kjoin.NewJoinBuilderConfig()
	c.Join.Name = sec.Key(`name`).String()
	c.Join.WorkerPool.NumOfWorkers = sec.Key(`workers`).MustInt(c.Join.WorkerPool.NumOfWorkers)
	c.Join.WorkerPool.WorkerBufferSize = sec.Key(`worker_buffer`).MustInt(c.Join.WorkerPool.WorkerBufferSize)
	c.Join.WorkerPool.EvictInterval = sec.Key(`evict_interval`).MustDuration(c.Join.WorkerPool.EvictInterval)
	c.Join.MaxPending = sec.Key(`max_pending`).MustInt(0)
	c.Join.MaxPendingAge = sec.Key(`max_pending_age`).MustDuration(0)

	sec = f.Section(`http`)
	c.Join.Http.Enabled = sec.Key(`enabled`).MustBool(c.Join.Http.Enabled)
	c.Join.Http.Host = sec.Key(`host`).MustString(c.Join.Http.Host)

	sec = f.Section(`metrics`)
	c.Metrics.Enabled = sec.Key(`enabled`).MustBool(true)
	c.Metrics.System = sec.Key(`system`).MustString(`k_join`)

	decoder, err := valueDecoder(f.Section(`join`).Key(`payload`).MustString(`string`))
	if err != nil {
		return nil, err
	}

	switch c.Runtime {
	case runtimeKafka:
		sec = f.Section(`kafka`)
		c.Kafka = kafka.NewConfig()
		c.Kafka.Id = c.Join.Name
		c.Kafka.Sarama.ClientID = c.Join.Name
		c.Kafka.BootstrapServers = sec.Key(`bootstrap_servers`).Strings(`,`)
		c.Kafka.GroupId = sec.Key(`group_id`).MustString(c.Join.Name)
		c.Kafka.Topics.Designated = sec.Key(`designated`).String()
		c.Kafka.Topics.Other = sec.Key(`other`).Strings(`,`)
		c.Kafka.Topics.Output = sec.Key(`output`).String()
		c.Kafka.Topics.Failure = sec.Key(`failure`).MustString(c.Kafka.Topics.Output + `_failed`)
		c.Kafka.Topics.Create = sec.Key(`create_topics`).MustBool(false)
		c.Kafka.Topics.ReplicationFactor = int16(sec.Key(`replication_factor`).MustInt(int(c.Kafka.Topics.ReplicationFactor)))
		c.Kafka.ValueDecoder = decoder
		if err := c.Kafka.Validate(); err != nil {
			return nil, errors.WithPrevious(err, `invalid [kafka] section`)
		}

	case runtimeAmqp:
		sec = f.Section(`amqp`)
		c.Amqp = amqp.NewConfig()
		c.Amqp.Id = c.Join.Name
		c.Amqp.URL = sec.Key(`url`).MustString(c.Amqp.URL)
		c.Amqp.Queues.Designated = sec.Key(`designated`).String()
		c.Amqp.Queues.Other = sec.Key(`other`).Strings(`,`)
		c.Amqp.Exchange = sec.Key(`exchange`).String()
		c.Amqp.RoutingKey = sec.Key(`routing_key`).String()
		c.Amqp.Prefetch = sec.Key(`prefetch`).MustInt(c.Amqp.Prefetch)
		c.Amqp.Requeue = sec.Key(`requeue`).MustBool(false)
		c.Amqp.ValueDecoder = decoder
		if err := c.Amqp.Validate(); err != nil {
			return nil, errors.WithPrevious(err, `invalid [amqp] section`)
		}
	}

	if f.HasSection(`mongo`) {
		sec = f.Section(`mongo`)
		c.Mongo = mongo.NewConfig()
		c.Mongo.URI = sec.Key(`uri`).MustString(c.Mongo.URI)
		c.Mongo.Database = sec.Key(`database`).String()
		c.Mongo.Collection = sec.Key(`collection`).String()
		c.Mongo.Upsert = sec.Key(`upsert`).MustBool(c.Mongo.Upsert)
		c.Mongo.Many = sec.Key(`many`).MustBool(false)
		c.Mongo.FilterField = sec.Key(`filter_field`).MustString(c.Mongo.FilterField)
		c.Mongo.FilterAs = sec.Key(`filter_as`).MustString(c.Mongo.FilterAs)
		c.Mongo.ConnectTimeout = sec.Key(`connect_timeout`).MustDuration(c.Mongo.ConnectTimeout)
		if err := c.Mongo.Validate(); err != nil {
			return nil, errors.WithPrevious(err, `invalid [mongo] section`)
		}
	}

	return c, nil
}

func valueDecoder(name string) (encoding.Encoder, error) {
	switch strings.ToLower(name) {
	case `string`:
		return encoding.StringEncoder{}, nil
	case `json`:
		return encoding.JsonEncoder{}, nil
	}

	return nil, errors.New(fmt.Sprintf(`unknown payload encoding [%s], expected string or json`, name))
}

func logLevel(name string) log.Level {
	switch strings.ToLower(name) {
	case `trace`:
		return log.TRACE
	case `debug`:
		return log.DEBUG
	case `warn`:
		return log.WARN
	case `error`:
		return log.ERROR
	}

	return log.INFO
}
