package kafka

import (
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	kcontext "github.com/pickme-go/k-join/context"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
)

type groupHandler struct {
	designated string
	decoder    encoding.Encoder
	runner     join.Runner
	logger     log.Logger
	mu         *sync.Mutex
	trackers   map[*OffsetTracker]bool
	metrics    struct {
		endToEndLatency metrics.Observer
		reBalancing     metrics.Gauge
	}
}

func newGroupHandler(designated string, decoder encoding.Encoder, runner join.Runner, logger log.Logger, reporter metrics.Reporter) *groupHandler {
	h := &groupHandler{
		designated: designated,
		decoder:    decoder,
		runner:     runner,
		logger:     logger.NewLog(log.Prefixed(`group-handler`)),
		mu:         new(sync.Mutex),
		trackers:   make(map[*OffsetTracker]bool),
	}

	h.metrics.endToEndLatency = reporter.Observer(metrics.MetricConf{
		Path:   `k_join_consumer_end_to_end_latency_microseconds`,
		Labels: []string{`topic`, `partition`},
	})
	h.metrics.reBalancing = reporter.Gauge(metrics.MetricConf{
		Path: `k_join_consumer_rebalancing`,
	})

	return h
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.metrics.reBalancing.Count(0, nil)
	h.logger.Info(fmt.Sprintf(`partitions assigned %v`, session.Claims()))
	return nil
}

// Cleanup runs when the claims are revoked, after every ConsumeClaim of the
// session has returned. Uncommitted messages are consumed again by the next
// owner of the partition, so records still pending on the revoked trackers are
// dropped from the joiners unsettled.
func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.metrics.reBalancing.Count(1, nil)

	h.mu.Lock()
	revoked := h.trackers
	h.trackers = make(map[*OffsetTracker]bool)
	h.mu.Unlock()

	purged := h.runner.Purge(func(record *join.Record) bool {
		hd, ok := record.Handle.(*handle)
		return ok && revoked[hd.tracker]
	})

	h.logger.Info(fmt.Sprintf(`partitions revoked %v, %d pending records dropped`, session.Claims(), purged))
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	tracker := NewOffsetTracker(session, claim.Topic(), claim.Partition())

	h.mu.Lock()
	h.trackers[tracker] = true
	h.mu.Unlock()

	for msg := range claim.Messages() {
		t := time.Since(msg.Timestamp)
		h.metrics.endToEndLatency.Observe(float64(t.Nanoseconds()/1e3), map[string]string{
			`topic`:     msg.Topic,
			`partition`: fmt.Sprint(msg.Partition),
		})

		tracker.Track(msg.Offset)
		record := h.record(msg, tracker)

		ctx := kcontext.New(&kcontext.RecordMeta{
			Source:    msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       string(msg.Key),
			Timestamp: msg.Timestamp,
		})

		h.runner.Run(ctx, record, nil)
	}

	return nil
}

// record builds the join record of a message. Undecodable values and
// tombstones produce a record without payload which the joiner fails.
func (h *groupHandler) record(msg *sarama.ConsumerMessage, tracker *OffsetTracker) *join.Record {
	var payload interface{}
	if msg.Value != nil {
		v, err := h.decoder.Decode(msg.Value)
		if err != nil {
			h.logger.Error(fmt.Sprintf(`%s[%d]@%d value decode failed - %+v`, msg.Topic, msg.Partition, msg.Offset, err))
		} else {
			payload = v
		}
	}

	return join.NewRecord(msg.Topic, h.designated, join.BytesKey(msg.Key), payload, &handle{
		tracker: tracker,
		msg:     msg,
	})
}
