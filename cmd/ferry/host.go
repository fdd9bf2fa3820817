package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/postalsys/ferry/internal/catalog"
	"github.com/postalsys/ferry/internal/config"
	"github.com/postalsys/ferry/internal/host"
	"github.com/postalsys/ferry/internal/logging"
	"github.com/postalsys/ferry/internal/metrics"
	"github.com/postalsys/ferry/internal/pubip"
)

func hostCmd() *cobra.Command {
	var (
		configPath    string
		listen        string
		accessKey     string
		chunkSize     int
		rateLimit     string
		manifest      string
		files         []string
		dir           string
		metricsListen string
		showPublicIP  bool
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Serve files to an authenticated peer",
		Long: `Start a host that advertises the given files and serves their
bytes to peers presenting the correct access key.

Files are taken from --file flags, a --manifest file of
newline-separated paths, or every regular file in --dir.
When no access key is configured, a random one is generated
and printed at startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Flags override file values.
			if cmd.Flags().Changed("listen") {
				cfg.Host.Listen = listen
			}
			if cmd.Flags().Changed("key") {
				cfg.Host.AccessKey = accessKey
			}
			if cmd.Flags().Changed("chunk-size") {
				cfg.Host.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("rate-limit") {
				cfg.Host.RateLimit = rateLimit
			}
			if cmd.Flags().Changed("manifest") {
				cfg.Host.Manifest = manifest
			}
			if len(files) > 0 {
				cfg.Host.Files = append(cfg.Host.Files, files...)
			}
			if cmd.Flags().Changed("metrics-listen") {
				cfg.Host.MetricsListen = metricsListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			paths, err := catalog.Discover(cfg.Host.Manifest, cfg.Host.Files)
			if err != nil {
				return err
			}
			if dir != "" {
				dirPaths, err := catalog.DiscoverDir(dir)
				if err != nil {
					return err
				}
				paths = append(paths, dirPaths...)
			}

			cat, idx, err := catalog.Build(paths, logger)
			if err != nil {
				return err
			}
			if len(cat) == 0 {
				logger.Warn("catalog is empty, peers will see no files")
			}
			for _, f := range cat {
				fmt.Printf("  %s  %s  %s\n", f.Digest[:12], f.HumanSize(), f.Name)
			}

			key := cfg.Host.AccessKey
			if key == "" {
				key, err = host.GenerateAccessKey()
				if err != nil {
					return err
				}
				fmt.Printf("access key: %s\n", key)
			}

			rate, err := cfg.Host.RateBytesPerSecond()
			if err != nil {
				return err
			}

			srv, err := host.New(host.Options{
				Listen:    cfg.Host.Listen,
				AccessKey: key,
				ChunkSize: cfg.Host.ChunkSize,
				RateLimit: rate,
				Catalog:   cat,
				Index:     idx,
				Logger:    logger,
				Metrics:   metrics.Default(),
			})
			if err != nil {
				return err
			}
			if err := srv.Listen(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if showPublicIP {
				if ip, err := pubip.Fetch(ctx, pubip.V4); err != nil {
					logger.Warn("public address lookup failed", logging.KeyError, err)
				} else {
					_, port, _ := net.SplitHostPort(srv.Addr().String())
					fmt.Printf("public address: %s\n", net.JoinHostPort(ip.String(), port))
				}
			}

			if cfg.Host.MetricsListen != "" {
				go serveMetrics(cfg.Host.MetricsListen, logger)
			}

			return srv.Serve(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVarP(&listen, "listen", "l", config.DefaultListen, "TCP bind address")
	cmd.Flags().StringVarP(&accessKey, "key", "k", "", "access key (generated when empty)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", config.DefaultChunkSize, "per-record chunk size in bytes")
	cmd.Flags().StringVar(&rateLimit, "rate-limit", "", "per-connection throughput cap, e.g. 10MiB")
	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "file of newline-separated paths to serve")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to serve (repeatable)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "serve every regular file in this directory")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&showPublicIP, "public-ip", false, "look up and print the public address")

	return cmd
}

// serveMetrics exposes /metrics. Failures are logged, not fatal: metrics
// are an operator convenience, not part of serving files.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("metrics listening", logging.KeyLocalAddr, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", logging.KeyError, err)
	}
}
