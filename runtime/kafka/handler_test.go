package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	kcontext "github.com/pickme-go/k-join/context"
	"github.com/pickme-go/k-join/encoding"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/k-join/task_pool"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	fakeMarker
}

func (s *fakeSession) Claims() map[string][]int32 {
	return map[string][]int32{`results`: {0}}
}

func (s *fakeSession) Context() context.Context {
	return context.Background()
}

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
	s.fakeMarker.MarkOffset(topic, partition, offset, metadata)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	topic    string
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string {
	return c.topic
}

func (c *fakeClaim) Partition() int32 {
	return 0
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage {
	return c.messages
}

type run struct {
	ctx    context.Context
	record *join.Record
}

type fakeRunner struct {
	mu   sync.Mutex
	runs []run
}

func (r *fakeRunner) Run(ctx context.Context, record *join.Record, doneClb func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run{ctx: ctx, record: record})
}

func (r *fakeRunner) Purge(func(record *join.Record) bool) int {
	return 0
}

func TestGroupHandler_ConsumeClaim(t *testing.T) {
	runner := new(fakeRunner)
	h := newGroupHandler(`return-info`, encoding.StringEncoder{}, runner, log.NewNoopLogger(), metrics.NoopReporter())

	session := new(fakeSession)
	claim := &fakeClaim{topic: `results`, messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Topic: `results`, Offset: 10, Key: []byte(`42`), Value: []byte(`query-answer`), Timestamp: time.Now()}
	claim.messages <- &sarama.ConsumerMessage{Topic: `results`, Offset: 11, Key: []byte(`43`), Value: nil, Timestamp: time.Now()}
	close(claim.messages)

	require.NoError(t, h.Setup(session))
	require.NoError(t, h.ConsumeClaim(session, claim))
	require.NoError(t, h.Cleanup(session))

	require.Len(t, runner.runs, 2)

	first := runner.runs[0].record
	assert.Equal(t, join.SideA, first.Side)
	assert.Equal(t, join.Key(`42`), first.Key)
	assert.Equal(t, `query-answer`, first.Payload)
	assert.Equal(t, `results`, first.Source)

	meta, ok := kcontext.Meta(runner.runs[0].ctx)
	require.True(t, ok)
	assert.Equal(t, int64(10), meta.Offset)

	// tombstones reach the joiner without payload
	assert.Nil(t, runner.runs[1].record.Payload)

	// settling the handles commits through the session
	port := NewPort(nil, Topics{}, log.NewNoopLogger(), metrics.NoopReporter())
	port.Ack(context.Background(), runner.runs[1].record)
	assert.Empty(t, session.offsets())
	port.Ack(context.Background(), first)
	assert.Equal(t, []int64{12}, session.offsets())
}

func TestGroupHandler_DesignatedSide(t *testing.T) {
	runner := new(fakeRunner)
	h := newGroupHandler(`return-info`, encoding.StringEncoder{}, runner, log.NewNoopLogger(), metrics.NoopReporter())

	claim := &fakeClaim{topic: `return-info`, messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: `return-info`, Key: []byte(`42`), Value: []byte(`meta`)}
	close(claim.messages)

	require.NoError(t, h.ConsumeClaim(new(fakeSession), claim))
	require.Len(t, runner.runs, 1)
	assert.Equal(t, join.SideB, runner.runs[0].record.Side)
}

func claimOf(topic string, msgs ...*sarama.ConsumerMessage) *fakeClaim {
	c := &fakeClaim{topic: topic, messages: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, m := range msgs {
		c.messages <- m
	}
	close(c.messages)

	return c
}

func TestGroupHandler_RevokeThenReassign(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	port := NewPort(producer, testTopics, log.NewNoopLogger(), metrics.NoopReporter())

	conf := task_pool.NewPoolConfig()
	conf.NumOfWorkers = 2
	pool := task_pool.NewPool(`rebalance`, func(worker int) *join.Joiner {
		return join.NewJoiner(`rebalance`, testTopics.Designated, port)
	}, metrics.NoopReporter(), log.NewNoopLogger(), conf)
	defer pool.Stop()

	h := newGroupHandler(testTopics.Designated, encoding.StringEncoder{}, pool, log.NewNoopLogger(), metrics.NoopReporter())
	result := &sarama.ConsumerMessage{Topic: `results`, Offset: 5, Key: []byte(`k1`), Value: []byte(`answer`)}

	// the first owner loses the partition before the counterpart arrives
	first := new(fakeSession)
	require.NoError(t, h.Setup(first))
	require.NoError(t, h.ConsumeClaim(first, claimOf(`results`, result)))
	require.NoError(t, h.Cleanup(first))

	pending, err := pool.Pending()
	require.NoError(t, err)
	for _, pen := range pending {
		assert.Empty(t, pen.Other)
	}

	// the redelivered copy is pending on its own, nothing is failed
	second := new(fakeSession)
	require.NoError(t, h.Setup(second))
	require.NoError(t, h.ConsumeClaim(second, claimOf(`results`, result)))

	pending, err = pool.Pending()
	require.NoError(t, err)
	assert.Equal(t, []join.Key{`k1`}, pending[pool.Worker(`k1`)].Other)

	producer.ExpectSendMessageAndSucceed()
	info := &sarama.ConsumerMessage{Topic: testTopics.Designated, Offset: 7, Key: []byte(`k1`), Value: []byte(`meta`)}
	require.NoError(t, h.ConsumeClaim(second, claimOf(testTopics.Designated, info)))

	_, err = pool.Pending()
	require.NoError(t, err)

	assert.Empty(t, first.offsets())
	assert.ElementsMatch(t, []int64{6, 8}, second.offsets())

	require.NoError(t, producer.Close())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := NewConfig()
		c.BootstrapServers = []string{`localhost:9092`}
		c.GroupId = `k-join`
		c.Topics = testTopics
		return c
	}

	assert.NoError(t, valid().Validate())
	assert.Equal(t, []string{`return-info`, `results`}, valid().Sources())

	c := valid()
	c.BootstrapServers = nil
	assert.Error(t, c.Validate())

	c = valid()
	c.Topics.Other = []string{`return-info`}
	assert.Error(t, c.Validate())

	c = valid()
	c.Topics.Output = ``
	assert.Error(t, c.Validate())

	c = valid()
	c.Sarama.Producer.Return.Successes = false
	assert.Error(t, c.Validate())

	c = valid()
	c.Topics.Create = true
	c.Topics.ReplicationFactor = 0
	assert.Error(t, c.Validate())
}
