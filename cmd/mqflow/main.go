// Command mqflow runs a demo pipeline of producers and consumers against the
// broker selected by the environment, and serves its admin endpoints.
package main

import (
	"context"
	"fmt"
	"net"
	gohttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dockhardman/mqflow/pkg/backend"
	"github.com/dockhardman/mqflow/pkg/broker"
	"github.com/dockhardman/mqflow/pkg/config"
	"github.com/dockhardman/mqflow/pkg/consumer"
	"github.com/dockhardman/mqflow/pkg/endpoint"
	"github.com/dockhardman/mqflow/pkg/http"
	"github.com/dockhardman/mqflow/pkg/metrics"
	"github.com/dockhardman/mqflow/pkg/pipeline"
	"github.com/dockhardman/mqflow/pkg/producer"
)

func main() {
	l := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	if err := run(l); err != nil {
		_ = l.Log("LEVEL", "ERROR", "MESSAGE", err)
		os.Exit(1)
	}
}

func run(l log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		_ = l.Log("LEVEL", "WARN", "MESSAGE", "Using default configuration.", "err", err)
		cfg = config.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b, err := backend.New[Job](cfg, l)
	if err != nil {
		return err
	}
	ib := metrics.Instrument(b, metrics.New(reg))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Admin.Enabled {
		handler := http.NewAdminHTTPHandler(http.Endpoints{
			Stats:     endpoint.MakeStatsEndpoint(ib),
			Put:       endpoint.MakePutEndpoint[Job](ib),
			DecodePut: http.MakePutRequestDecoder[Job](),
			Gatherer:  reg,
		}, nil)
		server, err := serveHTTP(cfg.Admin.Address, handler)
		if err != nil {
			_ = b.Close()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			server(ctx, l)
		}()
	}

	err = runDemo(ctx, cfg.Broker.Name, cfg.Demo, ib, l)
	cancel()
	wg.Wait()
	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

// runDemo runs the demo pipeline on b. The pipeline closes b once it ran;
// a rejected configuration leaves that to runDemo.
func runDemo(ctx context.Context, name string, cfg config.DemoConfig, b broker.Broker[Job], l log.Logger) error {
	err := pipeline.New(pipeline.Config[Job]{
		Name:      name,
		Producers: producers(cfg, l),
		Consumers: consumers(cfg, l),
		Broker:    b,
		Log:       l,
	}).Run(ctx)
	if errors.Cause(err) == pipeline.ErrConfiguration {
		if cerr := b.Close(); cerr != nil {
			_ = l.Log("LEVEL", "WARN", "MESSAGE", "Unable to close broker.", "err", cerr)
		}
	}
	return err
}

func producers(cfg config.DemoConfig, l log.Logger) []pipeline.Publisher[Job] {
	ps := make([]pipeline.Publisher[Job], 0, cfg.Producers)
	for i := 0; i < cfg.Producers; i++ {
		name := fmt.Sprintf("producer-%d", i)
		ps = append(ps, producer.New(NewJobSource(name), producer.Config{
			Name:     name,
			Timeout:  cfg.Timeout,
			MaxCount: cfg.MaxCount,
			Interval: cfg.Interval,
			Log:      l,
		}))
	}
	return ps
}

// consumers splits the jobs of a bounded demo between the consumers so that
// the pipeline ends once every job has been handled.
func consumers(cfg config.DemoConfig, l log.Logger) []pipeline.Listener[Job] {
	cs := make([]pipeline.Listener[Job], 0, cfg.Consumers)
	total := cfg.Producers * cfg.MaxCount
	for i := 0; i < cfg.Consumers; i++ {
		name := fmt.Sprintf("consumer-%d", i)
		quota := 0
		if total > 0 {
			quota = total / cfg.Consumers
			if i < total%cfg.Consumers {
				quota++
			}
		}
		if total > 0 && quota == 0 {
			break
		}
		cs = append(cs, consumer.New(LogJob(log.With(l, "consumer", name)), consumer.Config{
			Name:     name,
			Timeout:  cfg.Timeout,
			MaxCount: quota,
			Log:      l,
		}))
	}
	return cs
}

func serveHTTP(address string, h gohttp.Handler) (func(context.Context, log.Logger), error) {
	// Separate listening and serving to capture listen errors.
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create TCP listener")
	}

	return func(ctx context.Context, logger log.Logger) {
		go func() {
			<-ctx.Done()
			if err := l.Close(); err != nil {
				_ = logger.Log("LEVEL", "WARN", "MESSAGE", err)
			}
		}()
		err := gohttp.Serve(l, h)
		if ctx.Err() == nil {
			_ = logger.Log("LEVEL", "ERROR", "MESSAGE", err)
		}
	}, nil
}
