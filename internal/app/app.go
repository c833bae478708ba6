// Package app wires all radscribe subsystems into a running HTTP server.
//
// New builds the storage backend, providers, formatting gateway, and API
// server from the configuration; Run serves until the context ends; and
// Shutdown tears everything down in order. Inject test doubles through
// the functional options (WithStore, WithSTTProvider, WithLLMFactory).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mwaldt/radscribe/internal/config"
	"github.com/mwaldt/radscribe/internal/format"
	"github.com/mwaldt/radscribe/internal/health"
	"github.com/mwaldt/radscribe/internal/httpapi"
	"github.com/mwaldt/radscribe/internal/observe"
	"github.com/mwaldt/radscribe/internal/store"
	"github.com/mwaldt/radscribe/internal/store/postgres"
	"github.com/mwaldt/radscribe/pkg/provider/embeddings"
	oaembed "github.com/mwaldt/radscribe/pkg/provider/embeddings/openai"
	"github.com/mwaldt/radscribe/pkg/provider/llm"
	"github.com/mwaldt/radscribe/pkg/provider/llm/anyllm"
	oallm "github.com/mwaldt/radscribe/pkg/provider/llm/openai"
	"github.com/mwaldt/radscribe/pkg/provider/stt"
	"github.com/mwaldt/radscribe/pkg/provider/stt/whisperlive"
)

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 10 * time.Second

// Version is the build version reported by /healthz. Overridden at link
// time via -ldflags.
var Version = "dev"

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	store      store.Store
	sttProv    stt.Provider
	embedder   embeddings.Provider
	llmFactory format.ProviderFactory

	server *http.Server

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a repository instead of building one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSTTProvider injects a speech provider instead of building one from
// config.
func WithSTTProvider(p stt.Provider) Option {
	return func(a *App) { a.sttProv = p }
}

// WithLLMFactory injects the formatting gateway's provider factory.
func WithLLMFactory(f format.ProviderFactory) Option {
	return func(a *App) { a.llmFactory = f }
}

// WithMetrics injects a metrics instance. Default: observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires the application from cfg. Initialisation is synchronous: the
// storage backend is connected (and migrated, for postgres) before New
// returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initServer()
	return a, nil
}

// initProviders builds the STT provider, embeddings provider, and LLM
// factory named in the config, unless already injected.
func (a *App) initProviders() error {
	if a.sttProv == nil && a.cfg.Providers.STT.Name != "" {
		p, err := buildSTT(a.cfg.Providers.STT, a.cfg.Dictation)
		if err != nil {
			return fmt.Errorf("create stt provider %q: %w", a.cfg.Providers.STT.Name, err)
		}
		a.sttProv = p
		slog.Info("provider created", "kind", "stt", "name", a.cfg.Providers.STT.Name)
	}

	if a.embedder == nil && a.cfg.Providers.Embeddings.Name != "" {
		p, err := buildEmbeddings(a.cfg.Providers.Embeddings)
		if err != nil {
			return fmt.Errorf("create embeddings provider %q: %w", a.cfg.Providers.Embeddings.Name, err)
		}
		a.embedder = p
		slog.Info("provider created", "kind", "embeddings", "name", a.cfg.Providers.Embeddings.Name)
	}

	if a.llmFactory == nil {
		entry := a.cfg.Providers.LLM
		a.llmFactory = func(apiKey string) (llm.Provider, error) {
			return buildLLM(entry, apiKey)
		}
	}
	return nil
}

// initStore builds the configured storage backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		pgOpts := []postgres.Option{}
		if a.embedder != nil {
			pgOpts = append(pgOpts, postgres.WithEmbedder(a.embedder))
		}
		st, err := postgres.New(ctx, a.cfg.Storage.PostgresDSN, pgOpts...)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error {
			st.Close()
			return nil
		})

	case config.StorageFile:
		st, err := store.OpenFileStore(a.cfg.Storage.FilePath)
		if err != nil {
			return err
		}
		a.store = st

	default:
		a.store = store.NewMemStore()
	}

	slog.Info("storage ready", "backend", string(a.cfg.Storage.Backend))
	return nil
}

// initServer assembles the HTTP mux: API routes, health probes, and the
// Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) initServer() {
	gw := format.New(a.llmFactory)

	apiOpts := []httpapi.Option{httpapi.WithMetrics(a.metrics)}
	if a.sttProv != nil {
		apiOpts = append(apiOpts, httpapi.WithSTT(a.sttProv))
	}
	api := httpapi.New(a.store, gw, apiOpts...)

	mux := http.NewServeMux()
	api.Register(mux)
	health.New(Version, a.readinessCheckers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// readinessCheckers builds the /readyz check list for the active backend.
func (a *App) readinessCheckers() []health.Checker {
	var checkers []health.Checker
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "store", Check: pinger.Ping})
	}
	return checkers
}

// Handler exposes the assembled HTTP handler, middleware included.
// Intended for tests that serve through httptest instead of Run.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("server drain failed", "error", err)
		}
		return ctx.Err()
	})

	slog.Info("server running", "addr", a.server.Addr)
	return g.Wait()
}

// Shutdown tears down subsystems in order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Provider construction ───────────────────────────────────────────────

// buildLLM constructs the formatting provider for one request. The openai
// name uses the native SDK adapter for its JSON response mode; every
// other name goes through the any-llm backend of the same name.
func buildLLM(entry config.ProviderEntry, apiKey string) (llm.Provider, error) {
	if entry.Name == "" || entry.Name == "openai" {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(apiKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildSTT(entry config.ProviderEntry, dict config.DictationConfig) (stt.Provider, error) {
	switch entry.Name {
	case "whisperlive":
		var opts []whisperlive.Option
		if entry.Model != "" {
			opts = append(opts, whisperlive.WithModel(entry.Model))
		}
		if dict.Language != "" {
			opts = append(opts, whisperlive.WithLanguage(dict.Language))
		}
		if dict.SampleRate > 0 {
			opts = append(opts, whisperlive.WithSampleRate(dict.SampleRate))
		}
		return whisperlive.New(entry.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}
