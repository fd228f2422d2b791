package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/config"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/knowledge"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/ledger"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/server"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/storage"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "graph-mcp",
		Short:         "MCP server for a per-project knowledge graph backed by Neo4j",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				fmt.Fprintf(os.Stderr, "graph-mcp: %v\n", err)
				return err
			}
			logger := cfg.Log.NewLogger(os.Stderr)
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("server stopped", "error", err)
				return err
			}
			return nil
		},
	}
	config.RegisterFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.Name, server.Version)
		},
	})
	return root
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, shutdownTracing, err := telemetry.SetupTracing(telemetry.TracingConfig{
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    server.Name,
		ServiceVersion: server.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()
	logger.Info("store ready", "backend", cfg.Backend, "dialect", store.Dialect().String())

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if cfg.JournalDir != "" {
		journal, err := ledger.OpenJournal(cfg.JournalDir)
		if err != nil {
			return err
		}
		opts = append(opts, ledger.WithJournal(journal))
		logger.Info("migration journal enabled", "dir", cfg.JournalDir)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	inst := telemetry.NewInstrumenter(telemetry.NewMetrics(reg), tp, logger)

	srv := server.New(knowledge.New(store, logger), ledger.New(store, opts...), inst, logger)

	if !cfg.HTTP() {
		logger.Info("graph MCP server starting", "transport", "stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server: %w", err)
		}
		return nil
	}
	return serveHTTP(ctx, cfg.Transport, cfg.Addr, newMux(srv, store, reg, cfg.SSE()), logger)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Backend == "sqlite" {
		s, err := storage.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.ConnectNeo4j(ctx, cfg.Neo4jStore())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newMux mounts the streamable handler at /mcp and the SSE handler at /sse.
// The root path serves whichever transport was selected.
func newMux(srv *mcp.Server, store storage.Store, reg *prometheus.Registry, sse bool) *http.ServeMux {
	getServer := func(*http.Request) *mcp.Server { return srv }
	streamable := mcp.NewStreamableHTTPHandler(getServer, nil)
	sseHandler := mcp.NewSSEHandler(getServer, nil)

	var root http.Handler = streamable
	if sse {
		root = sseHandler
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	mux.Handle("/sse", sseHandler)
	mux.Handle("/", root)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func serveHTTP(ctx context.Context, transport, addr string, handler http.Handler, logger *slog.Logger) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("graph MCP server listening", "transport", transport, "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
