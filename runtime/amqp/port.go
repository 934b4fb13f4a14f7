package amqp

import (
	"context"
	"fmt"
	"time"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the publishing side of *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Port publishes merged results and settles deliveries with the broker's
// native per message ack and nack.
type Port struct {
	publisher  Publisher
	exchange   string
	routingKey string
	requeue    bool
	fields     *encoding.FieldList
	sinks      join.Emitters
	logger     log.Logger
	failed     metrics.Counter
}

func NewPort(publisher Publisher, config *Config, logger log.Logger, sinks ...join.Emitter) *Port {
	return &Port{
		publisher:  publisher,
		exchange:   config.Exchange,
		routingKey: config.RoutingKey,
		requeue:    config.Requeue,
		fields:     encoding.NewFieldList(join.OutputFields),
		sinks:      sinks,
		logger:     logger.NewLog(log.Prefixed(`amqp-port`)),
		failed: config.MetricsReporter.Counter(metrics.MetricConf{
			Path:   `k_join_amqp_failed_count`,
			Labels: []string{`queue`},
		}),
	}
}

// Emit updates the sinks and then publishes the merged result. A failed
// publish retried after redelivery repeats only the idempotent sink update,
// publishing itself is at-least-once.
func (p *Port) Emit(ctx context.Context, merged join.MergedResult, anchors []*join.Record) error {
	body, err := p.fields.Encode(merged)
	if err != nil {
		return errors.WithPrevious(err, `merged result encode failed`)
	}

	msg := amqp.Publishing{
		ContentType:  `application/json`,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	if len(anchors) > 0 {
		msg.CorrelationId = anchors[0].Key.String()
	}

	if err := p.sinks.Emit(ctx, merged, anchors); err != nil {
		return err
	}

	if err := p.publisher.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot publish to [%s:%s]`, p.exchange, p.routingKey))
	}

	return nil
}

func (p *Port) Ack(ctx context.Context, record *join.Record) {
	d, ok := record.Handle.(amqp.Delivery)
	if !ok {
		return
	}

	if err := d.Ack(false); err != nil {
		p.logger.ErrorContext(ctx, fmt.Sprintf(`ack of delivery [%d] on [%s] failed - %+v`, d.DeliveryTag, record.Source, err))
	}
}

func (p *Port) Fail(ctx context.Context, record *join.Record, err error) {
	d, ok := record.Handle.(amqp.Delivery)
	if !ok {
		p.logger.ErrorContext(ctx, fmt.Sprintf(`record [%s] has no delivery, failed due to %+v`, record.Key, err))
		return
	}

	p.failed.Count(1, map[string]string{`queue`: record.Source})
	p.logger.WarnContext(ctx, fmt.Sprintf(`delivery [%d] on [%s] rejected due to %+v`, d.DeliveryTag, record.Source, err))

	if nackErr := d.Nack(false, p.requeue); nackErr != nil {
		p.logger.ErrorContext(ctx, fmt.Sprintf(`nack of delivery [%d] on [%s] failed - %+v`, d.DeliveryTag, record.Source, nackErr))
	}
}
