package main

import (
	"context"
	"fmt"

	"github.com/pickme-go/errors"
	kjoin "github.com/pickme-go/k-join"
	"github.com/pickme-go/k-join/graph"
	"github.com/pickme-go/k-join/join"
)

// offlineRuntime describes the inputs and sinks of a config without dialing
// any broker, it cannot run.
type offlineRuntime struct {
	name       string
	designated string
	sources    []string
	sinks      []graph.Sink
}

func (r *offlineRuntime) Name() string { return r.name }
func (r *offlineRuntime) Sources() []string { return r.sources }
func (r *offlineRuntime) Designated() string { return r.designated }
func (r *offlineRuntime) Sinks() []graph.Sink { return r.sinks }
func (r *offlineRuntime) Port() join.OutputPort { return nil }
func (r *offlineRuntime) Stop() error { return nil }
func (r *offlineRuntime) Close() error { return nil }

func (r *offlineRuntime) Run(context.Context, join.Runner) error {
	return errors.New(`offline runtime cannot run`)
}

func describe(c *appConfig) (kjoin.Runtime, error) {
	rt := &offlineRuntime{name: c.Runtime}

	switch c.Runtime {
	case runtimeKafka:
		rt.designated = c.Kafka.Topics.Designated
		rt.sources = c.Kafka.Sources()
		rt.sinks = append(rt.sinks, graph.Sink{Name: c.Kafka.Topics.Output, Type: `kafka`})
		if c.Kafka.Topics.Failure != `` {
			rt.sinks = append(rt.sinks, graph.Sink{Name: c.Kafka.Topics.Failure, Type: `kafka-failure`})
		}
	case runtimeAmqp:
		rt.designated = c.Amqp.Queues.Designated
		rt.sources = c.Amqp.Sources()
		rt.sinks = append(rt.sinks, graph.Sink{Name: fmt.Sprintf(`%s:%s`, c.Amqp.Exchange, c.Amqp.RoutingKey), Type: `amqp`})
	default:
		return nil, errors.New(fmt.Sprintf(`unknown runtime [%s]`, c.Runtime))
	}

	if c.Mongo != nil {
		rt.sinks = append(rt.sinks, graph.Sink{Name: c.Mongo.Collection, Type: `mongo`})
	}

	return rt, nil
}
