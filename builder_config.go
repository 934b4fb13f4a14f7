/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package kjoin

import (
	"time"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/k-join/task_pool"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
)

type JoinBuilderConfig struct {
	// Name identifies the join in logs, metrics and inspection routes
	Name       string
	WorkerPool *task_pool.PoolConfig
	// MaxPending bounds the unmatched records per side and worker, zero keeps all
	MaxPending int
	// MaxPendingAge fails unmatched records older than it, zero keeps all
	MaxPendingAge time.Duration
	Http          struct {
		Enabled bool
		Host    string
	}
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewJoinBuilderConfig() *JoinBuilderConfig {
	config := &JoinBuilderConfig{}
	config.WorkerPool = task_pool.NewPoolConfig()
	config.Http.Enabled = true
	config.Http.Host = `:8080`

	config.Logger = log.NewNoopLogger()
	// default metrics reporter
	config.MetricsReporter = metrics.NoopReporter()

	return config
}

func (c *JoinBuilderConfig) validate() error {
	if c.Name == `` {
		return errors.New(`[Name] cannot be empty`)
	}

	if c.WorkerPool == nil {
		return errors.New(`[WorkerPool] cannot be nil`)
	}

	if err := c.WorkerPool.Validate(); err != nil {
		return err
	}

	if c.MaxPending < 0 {
		return errors.New(`[MaxPending] cannot be negative`)
	}

	if c.MaxPendingAge < 0 {
		return errors.New(`[MaxPendingAge] cannot be negative`)
	}

	if c.Http.Enabled && c.Http.Host == `` {
		return errors.New(`[Http.Host] cannot be empty`)
	}

	if c.Logger == nil {
		return errors.New(`[Logger] cannot be nil`)
	}

	if c.MetricsReporter == nil {
		return errors.New(`[MetricsReporter] cannot be nil`)
	}

	return nil
}
