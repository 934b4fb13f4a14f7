package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/pickme-go/errors"
	kcontext "github.com/pickme-go/k-join/context"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/k-join/graph"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Runtime consumes one queue per input with manual acks and feeds the
// deliveries to a Runner.
type Runtime struct {
	config  *Config
	conn    *amqp.Connection
	channel *amqp.Channel
	port    *Port
	logger  log.Logger
	stop    chan struct{}
	once    *sync.Once

	// consumers stay open after Stop so drained deliveries can still be settled
	mu        *sync.Mutex
	consumers []*amqp.Channel
}

func NewRuntime(config *Config, sinks ...join.Emitter) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid amqp config`)
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, errors.WithPrevious(err, `amqp dial failed`)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.WithPrevious(err, `amqp publish channel init failed`)
	}

	logger := config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`amqp-runtime-%s`, config.Id)))

	return &Runtime{
		config:  config,
		conn:    conn,
		channel: channel,
		port:    NewPort(channel, config, logger, sinks...),
		logger:  logger,
		stop:    make(chan struct{}),
		once:    new(sync.Once),
		mu:      new(sync.Mutex),
	}, nil
}

func (r *Runtime) Name() string {
	return `amqp`
}

func (r *Runtime) Sources() []string {
	return r.config.Sources()
}

func (r *Runtime) Designated() string {
	return r.config.Queues.Designated
}

func (r *Runtime) Sinks() []graph.Sink {
	sinks := []graph.Sink{{Name: fmt.Sprintf(`%s:%s`, r.config.Exchange, r.config.RoutingKey), Type: `amqp`}}
	for _, s := range r.port.sinks {
		sinks = append(sinks, graph.SinksOf(s)...)
	}

	return sinks
}

func (r *Runtime) Port() join.OutputPort {
	return r.port
}

// Run consumes every input queue until ctx is cancelled, Stop is called or a
// consuming channel is closed by the broker.
func (r *Runtime) Run(ctx context.Context, runner join.Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	select {
	case <-r.stop:
		return nil
	default:
	}

	errs := make(chan error, len(r.config.Sources()))
	wg := new(sync.WaitGroup)

	for _, queue := range r.config.Sources() {
		ch, err := r.conn.Channel()
		if err != nil {
			cancel()
			wg.Wait()
			return errors.WithPrevious(err, fmt.Sprintf(`channel init for [%s] failed`, queue))
		}

		if err := ch.Qos(r.config.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			cancel()
			wg.Wait()
			return errors.WithPrevious(err, fmt.Sprintf(`qos for [%s] failed`, queue))
		}

		tag := fmt.Sprintf(`%s-%s`, r.config.Id, queue)
		deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			cancel()
			wg.Wait()
			return errors.WithPrevious(err, fmt.Sprintf(`consume of [%s] failed`, queue))
		}

		r.mu.Lock()
		r.consumers = append(r.consumers, ch)
		r.mu.Unlock()

		wg.Add(1)
		go func(queue string, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
			defer wg.Done()
			defer func() {
				if err := ch.Cancel(tag, false); err != nil && err != amqp.ErrClosed {
					r.logger.Error(fmt.Sprintf(`consumer of [%s] cancel failed - %+v`, queue, err))
				}
			}()

			if err := r.consume(ctx, queue, deliveries, runner); err != nil {
				errs <- err
				cancel()
			}
		}(queue, ch, deliveries)
	}

	r.logger.Info(fmt.Sprintf(`consuming %v`, r.config.Sources()))

	wg.Wait()
	close(errs)

	return <-errs
}

func (r *Runtime) consume(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, runner join.Runner) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New(fmt.Sprintf(`deliveries of [%s] closed`, queue))
			}

			record := newRecord(queue, r.config.Queues.Designated, r.config.ValueDecoder, d, r.logger)
			runner.Run(kcontext.New(&kcontext.RecordMeta{
				Source:    queue,
				Offset:    int64(d.DeliveryTag),
				Key:       d.CorrelationId,
				Timestamp: d.Timestamp,
			}), record, nil)
		}
	}
}

// Stop cancels the consumers so Run returns. Deliveries not yet handed to the
// runner are redelivered by the broker once Close closes their channels.
func (r *Runtime) Stop() error {
	r.once.Do(func() {
		close(r.stop)
		r.logger.Info(`consumers stopped`)
	})

	return nil
}

func (r *Runtime) Close() error {
	defer r.logger.Info(`runtime closed`)

	_ = r.Stop()

	r.mu.Lock()
	for _, ch := range r.consumers {
		if err := ch.Close(); err != nil && err != amqp.ErrClosed {
			r.logger.Error(fmt.Sprintf(`consumer channel close failed - %+v`, err))
		}
	}
	r.consumers = nil
	r.mu.Unlock()

	if err := r.channel.Close(); err != nil && err != amqp.ErrClosed {
		return errors.WithPrevious(err, `publish channel close failed`)
	}

	if err := r.conn.Close(); err != nil && err != amqp.ErrClosed {
		return errors.WithPrevious(err, `connection close failed`)
	}

	return nil
}

// newRecord builds the join record of a delivery, its side comes from the
// queue it was consumed from and its key from the correlation id.
func newRecord(queue, designated string, decoder encoding.Encoder, d amqp.Delivery, logger log.Logger) *join.Record {
	var payload interface{}
	if len(d.Body) > 0 {
		v, err := decoder.Decode(d.Body)
		if err != nil {
			logger.Error(fmt.Sprintf(`delivery [%d] on [%s] decode failed - %+v`, d.DeliveryTag, queue, err))
		} else {
			payload = v
		}
	}

	return join.NewRecord(queue, designated, join.Key(d.CorrelationId), payload, d)
}
