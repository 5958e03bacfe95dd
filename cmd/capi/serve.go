package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	_ "gocloud.dev/pubsub/mempubsub"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"go.appointy.com/capi"
	"go.appointy.com/capi/auth"
	"go.appointy.com/capi/catalog"
	"go.appointy.com/capi/config"
	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/introspection"
	"go.appointy.com/capi/metrics"
	"go.appointy.com/capi/pgnotify"
	"go.appointy.com/capi/plugins"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription"
	"go.appointy.com/capi/translator"
)

// watchChannel is notified by the event triggers installed by migrate.
const watchChannel = "capi_watch"

type serveOptions struct {
	*rootOptions
	port     int
	env      string
	tagsFile string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the GraphQL API",
		Long: `Serve the GraphQL API reflected from the configured schema.

  POST /graphql         queries and mutations, batches as JSON arrays
  GET  /graphql         GraphiQL (development only)
  GET  /graphql/stream  subscriptions over graphql-ws
  GET  /metrics         Prometheus metrics
  GET  /healthz         liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = opts.port
			}
			if flags.Changed("env") {
				cfg.Env = opts.env
			}
			if flags.Changed("tags-file") {
				cfg.TagsFile = opts.tagsFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, opts.Logger)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on (PORT)")
	cmd.Flags().StringVar(&opts.env, "env", "", "development or production (CAPI_ENV)")
	cmd.Flags().StringVar(&opts.tagsFile, "tags-file", "", "smart tags file (CAPI_TAGS_FILE)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New(prometheus.NewRegistry())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	tr := translator.New(db, translator.Postgres{},
		translator.WithTimeout(cfg.StoreTimeout),
		translator.WithSessionRole(cfg.SessionRole),
		translator.WithLogger(logger),
		translator.WithMetrics(m),
	)
	registry := extension.NewRegistry()
	registry.MustRegister(plugins.Default(tr, &http.Client{Timeout: 10 * time.Second})...)

	holder := schemagraph.NewHolder(graphBuilder(cfg, catalog.NewPostgres(db), tr, registry, m),
		schemagraph.WithLogger(logger))
	if err := holder.Load(ctx); err != nil {
		return err
	}
	logger.Info("schema loaded", "schema", cfg.Schema, "types", len(holder.Current().Types), "extensions", registry.Names())

	g, ctx := errgroup.WithContext(ctx)

	hubOpts := []subscription.HubOption{subscription.WithHubLogger(logger), subscription.WithHubMetrics(m)}
	var hub *subscription.Hub
	if cfg.PubSubURL != "" {
		src, err := subscription.OpenPubSubSource(ctx, cfg.PubSubURL, logger)
		if err != nil {
			return err
		}
		hub = subscription.NewHub(hubOpts...)
		g.Go(func() error { return src.Run(ctx, hub) })
	} else {
		src := subscription.NewPgSource(pgnotify.New(cfg.DatabaseURL, pgnotify.WithLogger(logger)), logger)
		hub = subscription.NewHub(append(hubOpts, subscription.WithBackend(src))...)
		g.Go(func() error { return src.Run(ctx, hub) })
	}

	if cfg.Development() {
		watch := pgnotify.New(cfg.DatabaseURL, pgnotify.WithLogger(logger))
		if err := watch.Listen(watchChannel); err != nil {
			return err
		}
		logger.Info("watching schema for changes")
		changes := make(chan struct{}, 1)
		g.Go(func() error { return watch.Run(ctx, pgnotify.Signal(watchChannel, changes)) })
		g.Go(func() error { return holder.Watch(ctx, changes) })
	}

	dispatcher := subscription.NewDispatcher(hub, holder, tr, logger)
	authn := auth.New(cfg.JWTSecret, cfg.DefaultRole)
	ws := subscription.NewWSHandler(dispatcher, authn.WebSocket, logger)
	ws.Verbosity = cfg.ExtendedErrors

	mux := http.NewServeMux()
	mux.Handle("/graphql", authn.Middleware(capi.HTTPHandler(dispatcher,
		capi.WithVerbosity(cfg.ExtendedErrors),
		capi.WithPlayground(cfg.Development()),
		capi.WithCORS(cfg.CORS),
		capi.WithHandlerLogger(logger),
		capi.WithHandlerMetrics(m),
	)))
	mux.Handle("/graphql/stream", ws)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if holder.Current() == nil {
			http.Error(w, "no schema", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		logger.Info("listening", "addr", ln.Addr().String(), "development", cfg.Development())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
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

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// graphBuilder reflects the schema with the current tags file and applies
// the extensions.
func graphBuilder(cfg *config.Config, cat catalog.Catalog, src schemagraph.RowSource, registry *extension.Registry, m *metrics.Metrics) schemagraph.BuildFunc {
	return func(ctx context.Context) (*schemagraph.Graph, error) {
		g, err := buildGraph(ctx, cfg, cat, src, registry)
		m.ObserveReload(err)
		return g, err
	}
}

func buildGraph(ctx context.Context, cfg *config.Config, cat catalog.Catalog, src schemagraph.RowSource, registry *extension.Registry) (*schemagraph.Graph, error) {
	tags, err := schemagraph.LoadTags(cfg.TagsFile)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	base, err := schemagraph.Reflect(ctx, cat, cfg.Schema, src, schemagraph.WithTags(tags))
	if err != nil {
		return nil, err
	}
	g, err := registry.Apply(base)
	if err != nil {
		return nil, err
	}
	introspection.AddIntrospectionToSchema(g.Executable)
	return g, nil
}
