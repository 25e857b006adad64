package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/casualjim/hoot/chat"
	"github.com/casualjim/hoot/executor"
	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/provider/deepseek"
	"github.com/casualjim/hoot/provider/mock"
	"github.com/casualjim/hoot/provider/openai"
	"github.com/casualjim/hoot/session"
	"github.com/casualjim/hoot/session/sqlite"
	"github.com/casualjim/hoot/settings"
	"github.com/fogfish/opts"
	"github.com/openai/openai-go/option"
)

// natsPrefix prefixes the NATS subjects of the host endpoint.
const natsPrefix = "hoot"

// natsConnID is the connection id of the NATS endpoint.
const natsConnID = "nats"

type app struct {
	db       *sqlite.Store
	store    *session.Store
	registry *provider.Registry
	service  *chat.Service
}

func newRegistry(cfg settings.Settings) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(mock.Name, mock.New(), mock.Matcher)

	var openaiOpts []option.RequestOption
	if cfg.OpenAI.BaseURL != "" {
		openaiOpts = append(openaiOpts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	registry.Register(openai.Name, openai.New(cfg.OpenAI.APIKey, openaiOpts...), openai.Matcher)
	registry.Register(deepseek.Name, deepseek.New(cfg.DeepSeek.APIKey, cfg.DeepSeek.BaseURL, nil), deepseek.Matcher)
	return registry
}

func openApp(ctx context.Context, cfg settings.Settings, extra ...opts.Option[chat.Service]) (*app, error) {
	db, err := sqlite.New(cfg.DB)
	if err != nil {
		return nil, err
	}
	store, err := session.NewStore(ctx, session.WithPersister(db))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	logger := slog.Default()
	limits := cfg.StreamLimits()
	options := append([]opts.Option[chat.Service]{
		chat.WithCredentials(&cfg),
		chat.WithPolicy(cfg.ProviderPolicy()),
		chat.WithLimits(limits),
		chat.WithLogger(logger),
		chat.WithExecutor(executor.New(executor.WithLimits(limits), executor.WithLogger(logger))),
	}, extra...)

	registry := newRegistry(cfg)
	return &app{
		db:       db,
		store:    store,
		registry: registry,
		service:  chat.NewService(store, registry, options...),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
