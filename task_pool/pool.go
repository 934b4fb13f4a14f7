package task_pool

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
)

var ErrPoolStopped = errors.New(`task pool stopped`)

// JoinerBuilder creates the joiner owned by one worker.
type JoinerBuilder func(worker int) *join.Joiner

type PoolConfig struct {
	NumOfWorkers     int
	WorkerBufferSize int
	// EvictInterval is how often bounded joiners evict stale records, zero disables it
	EvictInterval time.Duration
}

func NewPoolConfig() *PoolConfig {
	return &PoolConfig{
		NumOfWorkers:     10,
		WorkerBufferSize: 100,
		EvictInterval:    1 * time.Second,
	}
}

func (c *PoolConfig) Validate() error {
	if c.NumOfWorkers < 1 {
		return errors.New(`WorkerPool NumOfWorkers should be greater than 0`)
	}

	if c.WorkerBufferSize < 1 {
		return errors.New(`WorkerPool WorkerBufferSize should be greater than 0`)
	}

	if c.EvictInterval < 0 {
		return errors.New(`WorkerPool EvictInterval cannot be negative`)
	}

	return nil
}

type task struct {
	ctx     context.Context
	record  *join.Record
	inspect func(j *join.Joiner)
	doneClb func(err error)
}

// Pool runs one joiner per worker goroutine. Records are routed to workers by
// the hash of their correlation key so every record of a key reaches the same
// joiner, and a joiner is only ever touched by its own worker.
type Pool struct {
	id      string
	size    uint32
	workers []*worker
	logger  log.Logger
	config  *PoolConfig
	mu      *sync.RWMutex
	stopped bool
	wg      *sync.WaitGroup
}

func NewPool(id string, builder JoinerBuilder, metricsReporter metrics.Reporter, logger log.Logger, config *PoolConfig) *Pool {
	p := &Pool{
		id:      id,
		size:    uint32(config.NumOfWorkers),
		logger:  logger.NewLog(log.Prefixed(fmt.Sprintf(`task-pool-%s`, id))),
		config:  config,
		workers: make([]*worker, config.NumOfWorkers),
		mu:      new(sync.RWMutex),
		wg:      new(sync.WaitGroup),
	}

	bufferUsage := metricsReporter.Gauge(metrics.MetricConf{
		Path:   `k_join_task_pool_worker_buffer`,
		Labels: []string{`pool_id`, `worker`},
	})

	for i := 0; i < config.NumOfWorkers; i++ {
		p.workers[i] = &worker{
			id:          i,
			joiner:      builder(i),
			pool:        p,
			tasks:       make(chan task, config.WorkerBufferSize),
			bufferUsage: bufferUsage,
		}
	}

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go w.start()
	}

	p.logger.Info(fmt.Sprintf(`pool started with %d workers`, config.NumOfWorkers))

	return p
}

func (p *Pool) ID() string {
	return p.id
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Worker returns the index of the worker owning key.
func (p *Pool) Worker(key join.Key) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key))
	return int(hasher.Sum32() % p.size)
}

// Run queues the record on its key's worker, doneClb is called from the worker
// once the joiner has processed it. Ticks are dropped since joiners ignore them.
func (p *Pool) Run(ctx context.Context, record *join.Record, doneClb func(err error)) {
	if doneClb == nil {
		doneClb = func(error) {}
	}

	if record != nil && record.Tick {
		doneClb(nil)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		doneClb(ErrPoolStopped)
		return
	}

	w := 0
	if record != nil {
		w = p.Worker(record.Key)
	}

	p.workers[w].tasks <- task{
		ctx:     ctx,
		record:  record,
		doneClb: doneClb,
	}
}

// Pending collects the unmatched keys of every worker. The snapshot of each
// joiner is taken on its own worker goroutine.
func (p *Pool) Pending() ([]join.Pending, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return nil, ErrPoolStopped
	}

	pending := make([]join.Pending, len(p.workers))
	wg := new(sync.WaitGroup)
	wg.Add(len(p.workers))
	for i, w := range p.workers {
		i := i
		w.tasks <- task{
			inspect: func(j *join.Joiner) {
				pending[i] = j.Pending()
			},
			doneClb: func(error) {
				wg.Done()
			},
		}
	}
	wg.Wait()

	return pending, nil
}

// Purge drops the pending records matching match from every joiner without
// settling them, and returns how many were dropped. Records queued before the
// call are processed first.
func (p *Pool) Purge(match func(record *join.Record) bool) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return 0
	}

	purged := make([]int, len(p.workers))
	wg := new(sync.WaitGroup)
	wg.Add(len(p.workers))
	for i, w := range p.workers {
		i := i
		w.tasks <- task{
			inspect: func(j *join.Joiner) {
				purged[i] = j.Purge(match)
			},
			doneClb: func(error) {
				wg.Done()
			},
		}
	}
	wg.Wait()

	total := 0
	for _, n := range purged {
		total += n
	}

	return total
}

// Stop drains the queued records and waits for every worker to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, w := range p.workers {
		w.stop()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info(`pool stopped`)
}

type worker struct {
	id          int
	joiner      *join.Joiner
	tasks       chan task
	pool        *Pool
	bufferUsage metrics.Gauge
}

func (w *worker) start() {
	defer w.pool.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var evict <-chan time.Time
	if w.pool.config.EvictInterval > 0 && w.joiner.Bounded() {
		evictTicker := time.NewTicker(w.pool.config.EvictInterval)
		defer evictTicker.Stop()
		evict = evictTicker.C
	}

	labels := map[string]string{`pool_id`: w.pool.id, `worker`: fmt.Sprint(w.id)}

	for {
		select {
		case t, ok := <-w.tasks:
			if !ok {
				return
			}
			w.execute(t)
		case <-evict:
			if n := w.joiner.Evict(context.Background()); n > 0 {
				w.pool.logger.Warn(fmt.Sprintf(`worker %d evicted %d unmatched records`, w.id, n))
			}
		case <-ticker.C:
			w.bufferUsage.Count((float64(len(w.tasks))/float64(cap(w.tasks)))*100, labels)
		}
	}
}

func (w *worker) execute(t task) {
	if t.inspect != nil {
		t.inspect(w.joiner)
		t.doneClb(nil)
		return
	}

	err := w.joiner.OnRecord(t.ctx, t.record)
	if err != nil {
		w.pool.logger.ErrorContext(t.ctx, fmt.Sprintf(`worker %d - %+v`, w.id, err))
	}
	t.doneClb(err)
}

func (w *worker) stop() {
	close(w.tasks)
}
