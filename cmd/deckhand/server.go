/*
Copyright 2024 The Deckhand Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/airshipit/deckhand/internal/engine"
	"github.com/airshipit/deckhand/internal/metrics"
	"github.com/airshipit/deckhand/internal/schema"
	"github.com/airshipit/deckhand/internal/secrets"
	"github.com/airshipit/deckhand/internal/server"
	"github.com/airshipit/deckhand/internal/storage"
)

const (
	errBuildRegistry = "cannot build schema registry"
	errOpenStore     = "cannot open revision store"
	errServe         = "cannot serve API"
)

// serverCmd starts the Deckhand API server.
type serverCmd struct {
	Listen        string        `default:":9000" help:"Address the API listens on."`
	MetricsListen string        `default:":8080" help:"Address Prometheus metrics are served on."`
	DB            string        `default:"deckhand.db" help:"Path of the sqlite revision store. Use :memory: for an ephemeral store."`
	RenderTimeout time.Duration `default:"60s" help:"Bound on one render of one revision."`

	BarbicanEndpoint string `help:"Barbican v1 endpoint used to store encrypted document payloads." env:"DECKHAND_BARBICAN_ENDPOINT"`
	BarbicanToken    string `help:"Token for Barbican requests." env:"DECKHAND_BARBICAN_TOKEN"`

	StrictKinds    bool `help:"Fail data validation for document kinds without a registered schema."`
	LenientSources bool `help:"Treat missing substitution sources as warnings instead of errors."`
}

// Run starts the API and metrics listeners and blocks until either fails or
// the process is told to stop.
func (c *serverCmd) Run(log logging.Logger) error {
	reg, err := schema.NewRegistry()
	if err != nil {
		return errors.Wrap(err, errBuildRegistry)
	}

	var sec secrets.Store
	if c.BarbicanEndpoint != "" {
		sec = secrets.NewBarbican(c.BarbicanEndpoint,
			secrets.WithToken(c.BarbicanToken),
			secrets.WithLogger(log))
	}

	sopts := []storage.Option{storage.WithLogger(log)}
	if sec != nil {
		sopts = append(sopts, storage.WithSecrets(sec))
	}
	store, err := storage.New(c.DB, sopts...)
	if err != nil {
		return errors.Wrap(err, errOpenStore)
	}
	defer store.Close() //nolint:errcheck // Process is exiting.

	eopts := []engine.Option{engine.WithLogger(log)}
	if c.StrictKinds {
		eopts = append(eopts, engine.StrictKinds())
	}
	if c.LenientSources {
		eopts = append(eopts, engine.LenientSources())
	}
	e := engine.New(reg, sec, eopts...)

	m := metrics.NewMetrics()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(m, collectors.NewGoCollector())

	api := &http.Server{
		Addr: c.Listen,
		Handler: server.New(store, e,
			server.WithLogger(log),
			server.WithMetrics(m),
			server.WithRenderTimeout(c.RenderTimeout)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	mmux := http.NewServeMux()
	mmux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	msrv := &http.Server{Addr: c.MetricsListen, Handler: mmux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Serving API", "listen", c.Listen, "db", c.DB)
		if err := api.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("Serving metrics", "listen", c.MetricsListen)
		if err := msrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = msrv.Shutdown(sctx)
		return api.Shutdown(sctx)
	})

	return errors.Wrap(g.Wait(), errServe)
}
