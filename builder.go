/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package kjoin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/graph"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/k-join/task_pool"
	"github.com/pickme-go/log/v2"
)

// Runtime connects a join to a broker. It supplies the input records, and the
// port joiners use to emit results and settle those records.
type Runtime interface {
	Name() string
	// Sources lists every input, Designated names the one on the return side
	Sources() []string
	Designated() string
	Sinks() []graph.Sink
	Port() join.OutputPort
	Run(ctx context.Context, runner join.Runner) error
	// Stop makes Run return, the port stays usable until Close
	Stop() error
	Close() error
}

type JoinBuilder struct {
	config  *JoinBuilderConfig
	runtime Runtime
	pool    *task_pool.Pool
	router  *mux.Router
	server  *http.Server
	logger  log.Logger
	once    *sync.Once
}

func NewJoinBuilder(config *JoinBuilderConfig, runtime Runtime) (*JoinBuilder, error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid join config`)
	}

	if runtime == nil {
		return nil, errors.New(`runtime cannot be nil`)
	}

	return &JoinBuilder{
		config:  config,
		runtime: runtime,
		router:  mux.NewRouter(),
		logger:  config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`join-builder-%s`, config.Name))),
		once:    new(sync.Once),
	}, nil
}

// Router is served on Http.Host once the join starts, extra routes can be
// registered on it before.
func (b *JoinBuilder) Router() *mux.Router {
	return b.router
}

func (b *JoinBuilder) Pool() *task_pool.Pool {
	return b.pool
}

// Build starts the worker pool, one joiner per worker.
func (b *JoinBuilder) Build() error {
	if b.pool != nil {
		return errors.New(`join already built`)
	}

	m := join.NewMetrics(b.config.MetricsReporter)
	opts := []join.Option{
		join.WithLogger(b.config.Logger),
		join.WithMetrics(m),
		join.WithMaxPending(b.config.MaxPending),
		join.WithMaxPendingAge(b.config.MaxPendingAge),
	}

	b.pool = task_pool.NewPool(b.config.Name, func(worker int) *join.Joiner {
		return join.NewJoiner(fmt.Sprintf(`%s-%d`, b.config.Name, worker), b.runtime.Designated(), b.runtime.Port(), opts...)
	}, b.config.MetricsReporter, b.config.Logger, b.config.WorkerPool)

	task_pool.MakeEndpoints(b.router, b.config.Logger, b.pool)

	if b.config.Http.Enabled {
		b.server = &http.Server{
			Addr:    b.config.Http.Host,
			Handler: handlers.CORS()(b.router),
		}
	}

	b.logger.Info(b.Topology())
	printInfo(os.Stdout, b)

	return nil
}

// Topology renders the join as a graphviz dot graph.
func (b *JoinBuilder) Topology() string {
	g := graph.NewGraph()
	g.RenderTopology(graph.Topology{
		Name:       b.config.Name,
		Designated: b.runtime.Designated(),
		Sources:    b.runtime.Sources(),
		Workers:    b.config.WorkerPool.NumOfWorkers,
		Sinks:      b.runtime.Sinks(),
		Info: map[string]string{
			`runtime`:         b.runtime.Name(),
			`max_pending`:     fmt.Sprint(b.config.MaxPending),
			`max_pending_age`: b.config.MaxPendingAge.String(),
		},
	})

	return g.Build()
}

// Start serves the http routes and runs the runtime until ctx is cancelled, Stop
// is called or the runtime fails. Records queued in the pool are drained through
// the port before the runtime is closed.
func (b *JoinBuilder) Start(ctx context.Context) (err error) {
	if b.pool == nil {
		return errors.New(`join is not built`)
	}

	defer func() {
		b.pool.Stop()
		if closeErr := b.runtime.Close(); closeErr != nil {
			b.logger.Error(fmt.Sprintf(`runtime close failed - %+v`, closeErr))
			if err == nil {
				err = errors.WithPrevious(closeErr, `runtime close failed`)
			}
		}
	}()

	if b.server != nil {
		go func() {
			if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				b.logger.Error(fmt.Sprintf(`cannot start web server : %+v`, err))
			}
		}()

		b.logger.Info(fmt.Sprintf(`http server started on %s`, b.config.Http.Host))
	}

	b.logger.Info(fmt.Sprintf(`join started on %s`, b.runtime.Name()))

	if err := b.runtime.Run(ctx, b.pool); err != nil {
		return errors.WithPrevious(err, `runtime stopped`)
	}

	return nil
}

// Stop shuts the http server down and stops the runtime, Start returns once the
// pool is drained. Records still pending in the joiners are left unsettled and
// get redelivered by the broker.
func (b *JoinBuilder) Stop() error {
	var err error
	b.once.Do(func() {
		if b.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if shutdownErr := b.server.Shutdown(ctx); shutdownErr != nil {
				b.logger.Error(fmt.Sprintf(`http server shutdown failed - %+v`, shutdownErr))
			}
		}

		err = b.runtime.Stop()
	})

	return err
}
