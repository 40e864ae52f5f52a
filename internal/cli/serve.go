package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgate/internal/config"
	"github.com/ppiankov/agentgate/internal/server"
)

var (
	serveAddr        string
	serveMetricsAddr string
	serveApprovalTTL time.Duration
	serveMaintenance time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "gRPC listen address (default from config)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Prometheus metrics listen address, empty disables")
	serveCmd.Flags().DurationVar(&serveApprovalTTL, "approval-ttl", 24*time.Hour, "Expire approval requests older than this")
	serveCmd.Flags().DurationVar(&serveMaintenance, "maintenance-interval", time.Minute, "How often idle agent state is swept")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC gate server",
	Long: "Runs agentgate as a central decision server over gRPC.\n" +
		"Agents submit events for signed decisions and report execution attempts.\n" +
		"Edits to the config file are hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(runtimeOptions{persist: true, metrics: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := serveAddr
	if addr == "" {
		addr = rt.cfg.Server.GRPCAddr
	}
	metricsAddr := serveMetricsAddr
	if metricsAddr == "" {
		metricsAddr = rt.cfg.Server.MetricsAddr
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	srv := server.New(rt.gate, server.Config{Addr: addr, ConfigPath: path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := os.Stat(path); err == nil {
		reloader, err := server.NewReloader(path, srv.ReloadPolicy, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
		} else {
			go reloader.Run(ctx)
			fmt.Fprintf(os.Stderr, "Config: %s (hot-reload enabled)\n", path)
		}
	}

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", metricsAddr)
	}

	go func() {
		ticker := time.NewTicker(serveMaintenance)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.gate.Maintain(serveApprovalTTL)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down gate server...")
		cancel()
		if metricsSrv != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			metricsSrv.Shutdown(shutdownCtx)
		}
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "Policy: %s %s (%s)\n", rt.cfg.Policy.Name, rt.cfg.Policy.Version, rt.hash)
	return srv.Serve()
}
