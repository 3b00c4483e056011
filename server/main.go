// Command collabtext-server runs the real-time collaboration service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/docstore"
	"collabtext/internal/hub"
	"collabtext/internal/logging"
	"collabtext/internal/metrics"
	"collabtext/internal/relay"
	"collabtext/internal/server"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath  string
	listenAddr  string
	redisAddr   string
	storeKind   string
	databaseURL string
	boltPath    string
	serviceURL  string
	logLevel    string
	logFormat   string
	mdns        bool
)

var rootCmd = &cobra.Command{
	Use:   "collabtext-server",
	Short: "Real-time collaborative editing server",
	Long: `collabtext-server accepts websocket connections at /ws/documents/{id},
merges concurrent edits with operational transformation and fans them out to
every client of the document. Several instances share documents through a
Redis stream when --redis-addr is set.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&listenAddr, "listen", "", "HTTP listen address")
	f.StringVar(&redisAddr, "redis-addr", "", "Redis address for the multi-instance relay")
	f.StringVar(&storeKind, "store", "", "document store: memory, postgres, bolt or http")
	f.StringVar(&databaseURL, "database-url", "", "Postgres connection URL")
	f.StringVar(&boltPath, "bolt-path", "", "bbolt database file")
	f.StringVar(&serviceURL, "service-url", "", "document service base URL")
	f.StringVar(&logLevel, "log-level", "", "log level")
	f.StringVar(&logFormat, "log-format", "", "log format: console or json")
	f.BoolVar(&mdns, "mdns", false, "announce this server over mDNS")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the command-line flags that were set over the file and
// environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("listen", func() { cfg.Listen = listenAddr })
	set("redis-addr", func() { cfg.Relay.RedisAddr = redisAddr })
	set("store", func() { cfg.Store.Backend = storeKind })
	set("database-url", func() { cfg.Store.DatabaseURL = databaseURL })
	set("bolt-path", func() { cfg.Store.BoltPath = boltPath })
	set("service-url", func() { cfg.Store.ServiceURL = serviceURL })
	set("log-level", func() { cfg.Log.Level = logLevel })
	set("log-format", func() { cfg.Log.Format = logFormat })
	set("mdns", func() { cfg.Discovery.Enabled = mdns })
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	rel, err := openRelay(ctx, cfg, log)
	if err != nil {
		return err
	}
	if rel != nil {
		defer rel.Close()
	}

	h, err := hub.New(store, rel, hub.Options{
		HistoryLimit: cfg.Hub.HistoryLimit,
		SendBuffer:   cfg.Hub.SendBuffer,
		CacheSize:    cfg.Hub.CacheSize,
		FlushTimeout: cfg.Hub.FlushTimeout,
		LoadTimeout:  cfg.Hub.LoadTimeout,
	}, log)
	if err != nil {
		return err
	}

	reg, err := metrics.NewRegistry(h)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	srv := server.New(h, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics.Handler(reg),
	}, log)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	if cfg.Discovery.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		ann, err := discovery.Announce(cfg.Discovery.Service, cfg.Discovery.Domain, h.Instance(), port, log)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS announcement disabled")
		} else {
			defer ann.Shutdown()
			go browsePeers(ctx, cfg, h.Instance(), log)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("store", cfg.Store.Backend).
			Str("instance", h.Instance()).Msg("collabtext server listening")
		serveErr <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := h.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("hub shutdown, unsaved changes may be lost")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (docstore.Store, error) {
	var (
		store docstore.Store
		err   error
	)
	switch cfg.Store.Backend {
	case config.StorePostgres:
		store, err = docstore.OpenPostgres(ctx, cfg.Store.DatabaseURL)
	case config.StoreBolt:
		store, err = docstore.OpenBolt(cfg.Store.BoltPath)
	case config.StoreHTTP:
		store = docstore.NewHTTP(cfg.Store.ServiceURL, cfg.Store.Timeout)
	default:
		store = docstore.NewMemory()
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	policy := docstore.DefaultRetryPolicy
	policy.MaxElapsedTime = cfg.Store.SaveRetry
	policy.MaxRetries = cfg.Store.MaxRetries
	return docstore.NewRetrying(store, policy, log.With().Str("component", "docstore").Logger()), nil
}

// openRelay connects the Redis relay. Without an address it returns a nil
// Relay and rooms are not mirrored.
func openRelay(ctx context.Context, cfg *config.Config, log zerolog.Logger) (relay.Relay, error) {
	if cfg.Relay.RedisAddr == "" {
		log.Info().Msg("no redis address, running as a single instance")
		return nil, nil
	}
	rel, err := relay.DialRedis(ctx, cfg.Relay.RedisAddr, cfg.Relay.MaxLen, cfg.Relay.Block)
	if err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Relay.RedisAddr, err)
	}
	log.Info().Str("addr", cfg.Relay.RedisAddr).Msg("connected to redis relay")
	return rel, nil
}

// browsePeers logs other collaboration servers seen on the network. Peers
// sharing documents must also share the Redis relay.
func browsePeers(ctx context.Context, cfg *config.Config, self string, log zerolog.Logger) {
	err := discovery.Browse(ctx, cfg.Discovery.Service, cfg.Discovery.Domain, func(p discovery.Peer) {
		for _, txt := range p.Text {
			if txt == "instance="+self {
				return
			}
		}
		log.Info().Str("peer", p.Instance).Str("addr", p.Address()).Msg("mDNS discovered peer")
	})
	if err != nil {
		log.Warn().Err(err).Msg("mDNS browse")
	}
}
