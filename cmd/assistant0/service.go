package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	cibamongo "github.com/assistant0/assistant0/features/ciba/mongo"
	"github.com/assistant0/assistant0/features/ciba/temporal"
	credredis "github.com/assistant0/assistant0/features/credential/redis"
	eventlogmongo "github.com/assistant0/assistant0/features/eventlog/mongo"
	clientseventlog "github.com/assistant0/assistant0/features/eventlog/mongo/clients/mongo"
	"github.com/assistant0/assistant0/features/model/anthropic"
	"github.com/assistant0/assistant0/features/model/bedrock"
	"github.com/assistant0/assistant0/features/model/middleware"
	"github.com/assistant0/assistant0/features/model/openai"
	"github.com/assistant0/assistant0/features/policy/basic"
	sessionmongo "github.com/assistant0/assistant0/features/session/mongo"
	clientsmongo "github.com/assistant0/assistant0/features/session/mongo/clients/mongo"
	"github.com/assistant0/assistant0/features/stream/pulse"
	clientspulse "github.com/assistant0/assistant0/features/stream/pulse/clients/pulse"
	"github.com/assistant0/assistant0/features/toolsets/calc"
	"github.com/assistant0/assistant0/features/toolsets/github"
	"github.com/assistant0/assistant0/features/toolsets/google"
	"github.com/assistant0/assistant0/features/toolsets/shop"
	"github.com/assistant0/assistant0/features/toolsets/slack"
	"github.com/assistant0/assistant0/features/toolsets/user"
	"github.com/assistant0/assistant0/features/toolsets/web"
	"github.com/assistant0/assistant0/runtime/agent/eventlog"
	eventloginmem "github.com/assistant0/assistant0/runtime/agent/eventlog/inmem"
	"github.com/assistant0/assistant0/runtime/agent/gate"
	"github.com/assistant0/assistant0/runtime/agent/interrupt"
	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/runtime"
	"github.com/assistant0/assistant0/runtime/agent/session"
	sessioninmem "github.com/assistant0/assistant0/runtime/agent/session/inmem"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
	cibainmem "github.com/assistant0/assistant0/runtime/auth/ciba/inmem"
	"github.com/assistant0/assistant0/runtime/auth/credential"
	credinmem "github.com/assistant0/assistant0/runtime/auth/credential/inmem"
	"github.com/assistant0/assistant0/runtime/auth/idp"
	"github.com/assistant0/assistant0/runtime/auth/sealer"
	transport "github.com/assistant0/assistant0/transport/http"
)

const (
	streamMaxLen       = 1000
	cibaRetention      = 24 * time.Hour
	rateLimitMapName   = "assistant0-model-ratelimit"
	connectionsFileEnv = "CONNECTIONS_FILE"
)

// service holds the wired components and the resources to release on exit.
type service struct {
	server  *transport.Server
	worker  worker.Worker
	closers []func(context.Context)
}

// close releases resources in reverse acquisition order.
func (s *service) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i](ctx)
	}
}

// newService wires every component described by cfg. On error the resources
// acquired so far are released.
func newService(ctx context.Context, cfg config) (_ *service, err error) {
	svc := &service{}
	defer func() {
		if err != nil {
			svc.close(ctx)
		}
	}()
	tel := telemetry.NewClue()

	catalog, err := loadCatalog(cfg.ConnectionsFile)
	if err != nil {
		return nil, err
	}
	provider, err := idp.New(idp.Config{
		Domain:               cfg.Auth0Domain,
		ClientID:             cfg.Auth0ClientID,
		ClientSecret:         cfg.Auth0ClientSecret,
		ExchangeClientID:     cfg.Auth0CustomClientID,
		ExchangeClientSecret: cfg.Auth0CustomClientSecret,
	})
	if err != nil {
		return nil, err
	}
	keys, err := auth.NewJWKS(ctx, cfg.Auth0Domain)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(auth.VerifierOptions{
		Issuer:   provider.Issuer(),
		Audience: cfg.Auth0Audience,
		Keys:     keys,
	})
	if err != nil {
		return nil, err
	}

	var (
		sessions session.Store  = sessioninmem.New()
		requests ciba.Store     = cibainmem.New()
		history  eventlog.Store = eventloginmem.New()
		pingers  []health.Pinger
	)
	if cfg.MongoURI != "" {
		mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		svc.closers = append(svc.closers, func(ctx context.Context) { _ = mc.Disconnect(ctx) })
		sc, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, err
		}
		if sessions, err = sessionmongo.NewStore(sc); err != nil {
			return nil, err
		}
		cs, err := cibamongo.New(ctx, cibamongo.Options{Client: mc, Database: cfg.MongoDatabase, Retention: cibaRetention})
		if err != nil {
			return nil, err
		}
		requests = cs
		ec, err := clientseventlog.New(ctx, clientseventlog.Options{Client: mc, Database: cfg.MongoDatabase, Retention: cfg.EventLogRetention})
		if err != nil {
			return nil, err
		}
		if history, err = eventlogmongo.NewStore(ec); err != nil {
			return nil, err
		}
		pingers = append(pingers, sc, cs, ec)
	} else {
		log.Printf(ctx, "MONGO_URI not set, conversations, approvals and event history are kept in memory")
	}

	var (
		rdb    *redis.Client
		tokens credential.Cache = credinmem.New()
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		svc.closers = append(svc.closers, func(context.Context) { _ = rdb.Close() })
		key, err := cfg.sealingKey()
		if err != nil {
			return nil, err
		}
		seal, err := sealer.NewAESGCM(key)
		if err != nil {
			return nil, err
		}
		rc, err := credredis.New(credredis.Options{Redis: rdb, Sealer: seal})
		if err != nil {
			return nil, err
		}
		tokens = rc
		pingers = append(pingers, rc)
	}

	resolver, err := credential.NewResolver(credential.Options{
		Cache:            tokens,
		Exchanger:        provider,
		SubjectTokenType: cfg.subjectTokenType(),
		AuthorizeURL:     idp.ConnectURL(cfg.AppBaseURL),
		Telemetry:        tel,
	})
	if err != nil {
		return nil, err
	}

	var streams *pulse.Streams
	if rdb != nil {
		pc, err := clientspulse.New(clientspulse.Options{Redis: rdb, StreamMaxLen: streamMaxLen})
		if err != nil {
			return nil, err
		}
		if streams, err = pulse.NewStreams(pulse.StreamsOptions{Client: pc}); err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func(ctx context.Context) { _ = streams.Close(ctx) })
	}

	var watcher *temporal.Watcher
	if cfg.TemporalHostPort != "" {
		watcher, err = temporal.New(temporal.Options{
			ClientOptions: &client.Options{HostPort: cfg.TemporalHostPort, Namespace: cfg.TemporalNamespace},
			TaskQueue:     cfg.TemporalTaskQueue,
			Telemetry:     tel,
		})
		if err != nil {
			return nil, fmt.Errorf("temporal watcher: %w", err)
		}
		svc.closers = append(svc.closers, func(context.Context) { watcher.Close() })
	}

	flowOpts := ciba.Options{
		Backchannel:     provider,
		Store:           requests,
		Tokens:          tokens,
		Mode:            ciba.Mode(cfg.CIBAMode),
		Development:     cfg.Development,
		RequestedExpiry: cfg.CIBARequestedExpiry,
		Telemetry:       tel,
	}
	if watcher != nil {
		flowOpts.Watcher = watcher
	}
	flow, err := ciba.NewFlow(flowOpts)
	if err != nil {
		return nil, err
	}
	if watcher != nil {
		record := eventlog.NewSink(history, nil)
		acts := &temporal.Activities{
			Refresher: flow,
			OnResolved: func(ctx context.Context, req ciba.Request) error {
				ev := stream.ApprovalResolved(req)
				err := record.Send(ctx, ev)
				if streams != nil {
					err = errors.Join(err, streams.Sink().Send(ctx, ev))
				}
				return err
			},
		}
		if svc.worker, err = temporal.NewWorker(watcher, acts, worker.Options{}); err != nil {
			return nil, err
		}
	}

	registry := tools.NewRegistry(tel)
	var all []tools.Tool
	for _, ts := range [][]tools.Tool{
		google.Tools(google.Options{Catalog: &catalog}),
		github.Tools(github.Options{Catalog: &catalog}),
		slack.Tools(slack.Options{Catalog: &catalog}),
		shop.Tools(shop.Options{APIURL: cfg.ShopAPIURL, Audience: cfg.ShopAPIAudience, RequestedExpiry: cfg.CIBARequestedExpiry}),
		web.Tools(web.Options{APIKey: cfg.SerpAPIKey}),
		user.Tools(provider),
		calc.Tools(),
	} {
		all = append(all, ts...)
	}
	policy := basic.New(basic.Options{
		AllowToolsets: cfg.ToolsetsAllow,
		BlockToolsets: cfg.ToolsetsBlock,
		AllowTools:    cfg.ToolsAllow,
		BlockTools:    cfg.ToolsBlock,
	})
	exposed := policy.Filter(all)
	for _, t := range exposed {
		// Invalid tools are recorded as disabled and logged by the registry.
		_ = registry.Register(ctx, t)
	}
	log.Print(ctx, log.KV{K: "tools", V: len(exposed)}, log.KV{K: "filtered", V: len(all) - len(exposed)})

	g, err := gate.New(gate.Options{Registry: registry, Resolver: resolver, Approver: flow, Telemetry: tel})
	if err != nil {
		return nil, err
	}
	signer, err := interrupt.NewSigner([]byte(cfg.ResumeTokenSecret), cfg.ResumeTokenTTL)
	if err != nil {
		return nil, err
	}
	mc, err := newModel(ctx, cfg, rdb, svc)
	if err != nil {
		return nil, err
	}
	rt, err := runtime.New(runtime.Options{
		Model:     mc,
		ModelID:   cfg.Model,
		Registry:  registry,
		Gate:      g,
		Sessions:  sessions,
		Resume:    signer,
		Telemetry: tel,
	})
	if err != nil {
		return nil, err
	}

	opts := transport.Options{
		Runtime:       rt,
		Sessions:      verifier,
		Approvals:     flow,
		CallbackToken: cfg.CIBACallbackToken,
		EventLog:      history,
		Pingers:       pingers,
		Debug:         cfg.Debug,
	}
	if watcher != nil {
		opts.Notifier = watcher
	}
	if streams != nil {
		opts.Events = streams.Sink()
		opts.Follow = streams.Follow
	}
	if svc.server, err = transport.New(opts); err != nil {
		return nil, err
	}
	return svc, nil
}

// newModel builds the provider client wrapped with rate limiting and retries.
// With Redis the tokens-per-minute budget is shared across processes.
func newModel(ctx context.Context, cfg config, rdb *redis.Client, svc *service) (model.Client, error) {
	var (
		base model.Client
		err  error
	)
	switch cfg.ModelProvider {
	case "openai":
		base, err = openai.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.Model)
	case "anthropic":
		base, err = anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.Model)
	case "bedrock":
		base, err = bedrock.NewFromConfig(ctx, cfg.Model)
	default:
		err = fmt.Errorf("unsupported model provider %q", cfg.ModelProvider)
	}
	if err != nil {
		return nil, err
	}
	var shared *rmap.Map
	if rdb != nil {
		if shared, err = rmap.Join(ctx, rateLimitMapName, rdb); err != nil {
			return nil, fmt.Errorf("join rate limit map: %w", err)
		}
		svc.closers = append(svc.closers, func(context.Context) { shared.Close() })
	}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, shared, cfg.ModelProvider+":"+cfg.Model, cfg.ModelTPM, cfg.ModelTPM)
	return middleware.Retry(middleware.RetryOptions{})(limiter.Middleware()(base)), nil
}

func loadCatalog(path string) (auth.Catalog, error) {
	if path == "" {
		return auth.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return auth.Catalog{}, fmt.Errorf("%s: %w", connectionsFileEnv, err)
	}
	defer f.Close()
	return auth.LoadCatalog(f)
}
