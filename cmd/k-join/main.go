// k-join correlates records of two broker inputs by key and publishes the
// merged results.
//
// Usage:
//
//	k-join run -c join.ini
//	k-join topology -c join.ini | dot -Tsvg > join.svg
//	k-join version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pickme-go/errors"
	kjoin "github.com/pickme-go/k-join"
	"github.com/pickme-go/k-join/join"
	"github.com/pickme-go/k-join/runtime/amqp"
	"github.com/pickme-go/k-join/runtime/kafka"
	"github.com/pickme-go/k-join/sink/mongo"
	"github.com/pickme-go/log/v2"
	"github.com/pickme-go/metrics/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	version    = `dev`
	configPath string
)

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: `k_join_build_info`,
	Help: `Build of the running k-join, always 1.`,
}, []string{`version`, `runtime`})

func main() {
	rootCmd := &cobra.Command{
		Use:     `k-join`,
		Short:   `Correlate two streams by key`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, `config`, `c`, `k-join.ini`, `Path of the ini config file`)

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(topologyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `run`,
		Short: `Consume the inputs and join them until interrupted`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx)
		},
	}
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `topology`,
		Short: `Print the join topology as a graphviz dot graph`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			rt, err := describe(c)
			if err != nil {
				return err
			}

			b, err := kjoin.NewJoinBuilder(c.Join, rt)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), b.Topology())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `version`,
		Short: `Print the version`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(ctx context.Context) error {
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := log.NewLog(log.WithLevel(c.LogLevel), log.WithColors(false), log.WithFilePath(false)).Log()
	c.Join.Logger = logger

	if c.Metrics.Enabled {
		c.Join.MetricsReporter = metrics.PrometheusReporter(metrics.ReporterConf{
			System:      c.Metrics.System,
			Subsystem:   `join`,
			ConstLabels: map[string]string{`join`: c.Join.Name},
		})
		buildInfo.WithLabelValues(version, c.Runtime).Set(1)
	}

	var sinks []join.Emitter
	if c.Mongo != nil {
		sink, closer, err := mongo.NewSink(ctx, c.Mongo, mongo.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() {
			if err := closer(context.Background()); err != nil {
				logger.Error(fmt.Sprintf(`mongo disconnect failed - %+v`, err))
			}
		}()
		sinks = append(sinks, sink)
	}

	var rt kjoin.Runtime
	switch c.Runtime {
	case runtimeKafka:
		c.Kafka.Logger, c.Kafka.MetricsReporter = logger, c.Join.MetricsReporter
		rt, err = kafka.NewRuntime(c.Kafka, sinks...)
	case runtimeAmqp:
		c.Amqp.Logger, c.Amqp.MetricsReporter = logger, c.Join.MetricsReporter
		rt, err = amqp.NewRuntime(c.Amqp, sinks...)
	}
	if err != nil {
		return err
	}

	b, err := kjoin.NewJoinBuilder(c.Join, rt)
	if err != nil {
		_ = rt.Close()
		return err
	}

	if c.Metrics.Enabled {
		b.Router().Handle(`/metrics`, promhttp.Handler())
	}

	if err := b.Build(); err != nil {
		_ = rt.Close()
		return err
	}

	go func() {
		<-ctx.Done()
		if err := b.Stop(); err != nil {
			logger.Error(fmt.Sprintf(`join stop failed - %+v`, err))
		}
	}()

	if err := b.Start(ctx); err != nil {
		_ = b.Stop()
		return errors.WithPrevious(err, fmt.Sprintf(`join [%s] failed`, c.Join.Name))
	}

	return nil
}
