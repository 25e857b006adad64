package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casualjim/hoot/host"
	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/internal/server"
	"github.com/casualjim/hoot/pkg/natsx"
	"github.com/casualjim/hoot/settings"
	"golang.org/x/sync/errgroup"
)

func runServe(ctx context.Context, cfg settings.Settings, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Addr, "listen address")
	natsURL := fs.String("nats", cfg.NATSURL, "NATS server url; empty disables the NATS endpoint")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// websocket and NATS connections write to one transcript
	turns := host.NewTurns()
	g, ctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.New(ctx, a.service, a.store, server.WithTurns(turns)).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("listening", slog.String("addr", *addr), slog.Any("providers", a.registry.Names()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if *natsURL != "" {
		g.Go(func() error {
			return serveNATS(ctx, a, turns, *natsURL)
		})
	}
	return g.Wait()
}

// serveNATS runs a host connection over the NATS subjects hoot.nats.in and
// hoot.nats.out.
func serveNATS(ctx context.Context, a *app, turns *host.Turns, url string) error {
	nc, err := natsx.NewClient(url)
	if err != nil {
		return err
	}
	defer func() { _ = nc.Drain() }()

	b := broker.NATS(nc)
	in := b.Topic(ctx, broker.InboundTopic(natsPrefix, natsConnID))
	out := b.Topic(ctx, broker.OutboundTopic(natsPrefix, natsConnID))

	conn := host.NewConn(ctx, a.service, out, host.WithID(natsConnID), host.WithTurns(turns))
	slog.Info("serving on nats", slog.String("url", nc.ConnectedUrlRedacted()))
	return conn.Serve(ctx, in)
}
