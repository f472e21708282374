package app

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/analysis"
	"github.com/Martian-dev/leadsync/internal/api"
	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/mailer"
	natsjs "github.com/Martian-dev/leadsync/internal/nats"
	"github.com/Martian-dev/leadsync/internal/providers/gmail"
	"github.com/Martian-dev/leadsync/internal/providers/outlook"
	"github.com/Martian-dev/leadsync/internal/store"
	"github.com/Martian-dev/leadsync/internal/sync"
)

// services is the wired object graph of a running server.
type services struct {
	store      *store.Store
	server     *api.Server
	manager    *sync.Manager
	publisher  *natsjs.Publisher
	dispatcher *natsjs.Dispatcher
}

func (s *services) close() {
	s.manager.StopAll()
	if s.publisher != nil {
		s.publisher.Close()
	}
	_ = s.store.Close()
}

// oauthConfigs registers a provider only when its client id is set.
func oauthConfigs(cfg *Config) auth.OAuthConfigs {
	configs := auth.OAuthConfigs{}
	if cfg.Google.ClientID != "" {
		configs[auth.ProviderGmail] = auth.GoogleConfig(auth.ClientConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		})
	}
	if cfg.Microsoft.ClientID != "" {
		configs[auth.ProviderOutlook] = auth.MicrosoftConfig(auth.ClientConfig{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			RedirectURL:  cfg.Microsoft.RedirectURL,
		}, cfg.Microsoft.Tenant)
	}
	return configs
}

func openStore(ctx context.Context, cfg *Config) (*store.Store, error) {
	st, err := store.Open(ctx, store.Dialect(cfg.Database.Driver), cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, nil
}

// build wires every component. ctx bounds the background work started
// here (JWKS refresh, background syncs).
func build(ctx context.Context, cfg *Config, log zerolog.Logger) (*services, error) {
	if cfg.Auth.JWKSURL == "" {
		return nil, fmt.Errorf("auth.jwks_url not configured")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := &services{store: st}

	verifier, err := auth.NewJWTVerifier(ctx, cfg.Auth.JWKSURL)
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := sync.NewRegistry()
	registry.Register(auth.ProviderGmail, sync.WithBreaker("gmail", gmail.Provider(), sync.DefaultBreakerSettings, log))
	var graphOpts []outlook.Option
	if cfg.Microsoft.GraphURL != "" {
		graphOpts = append(graphOpts, outlook.WithBaseURL(cfg.Microsoft.GraphURL))
	}
	registry.Register(auth.ProviderOutlook, sync.WithBreaker("outlook", outlook.Provider(graphOpts...), sync.DefaultBreakerSettings, log))

	configs := oauthConfigs(cfg)
	if len(configs) == 0 {
		log.Warn().Msg("no oauth client configured, accounts cannot be connected or refreshed")
	}
	refresher := auth.NewRefresher(configs, st, log)

	var opts []sync.Option
	if cfg.NATS.URL != "" {
		pub, err := natsjs.NewPublisher(cfg.NATS.URL, nats.Name("leadsync"), nats.MaxReconnects(-1))
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := pub.EnsureStream(ctx); err != nil {
			pub.Close()
			st.Close()
			return nil, err
		}
		svc.publisher = pub
		svc.dispatcher = natsjs.NewDispatcher(st, pub, log)
		opts = append(opts, sync.WithEvents(st))
		log.Info().Str("url", cfg.NATS.URL).Str("stream", natsjs.StreamName).Msg("publishing sync events")
	}

	syncer := sync.NewService(st, registry, refresher, log, opts...)
	svc.manager = sync.NewManager(ctx, syncer, log)
	leadSvc := leads.NewService(st, log)

	var analyzer *analysis.Service
	if cfg.OpenAI.APIKey != "" {
		analyzer = analysis.NewService(analysis.NewAnalyzer(analysis.Config{
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			Temperature: cfg.OpenAI.Temperature,
			MaxRetries:  cfg.OpenAI.MaxRetries,
		}, log), st, leadSvc, log)
	} else {
		log.Info().Msg("openai.api_key not set, lead analysis disabled")
	}

	svc.server = api.NewServer(api.Deps{
		Store:     st,
		Auth:      verifier,
		Sync:      syncer,
		Connector: sync.NewConnector(configs, st, syncer),
		Manager:   svc.manager,
		Leads:     leadSvc,
		Mailer:    mailer.NewService(st, syncer, log),
		Analysis:  analyzer,
	}, log)
	return svc, nil
}
