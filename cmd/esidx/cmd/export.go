package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/exporter-toolkit/web"
	"github.com/spf13/cobra"

	"github.com/AlectoTheFirst/esidx/internal/config"
	"github.com/AlectoTheFirst/esidx/internal/elasticsearch"
	"github.com/AlectoTheFirst/esidx/internal/exporter"
)

const shutdownTimeout = 10 * time.Second

type exportFlags struct {
	listenAddress string
	metricsPath   string
	queriesDir    string
	webConfigFile string
	once          bool
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	f := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Serve configured aggregations as Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.Default()

			connCfg, err := opts.conn.Load()
			if err != nil {
				return fmt.Errorf("failed to load Elasticsearch connection configuration: %w", err)
			}

			logger.Info("Loading query configurations...", "directory", f.queriesDir)
			metricConfigs, err := config.LoadQueryConfigs(f.queriesDir)
			if err != nil {
				return err
			}
			if len(metricConfigs) == 0 {
				logger.Warn("No valid metric configurations loaded. Exporter will run but produce no metrics from queries.", "directory", f.queriesDir)
			}

			esClient, err := elasticsearch.NewClient(connCfg, logger)
			if err != nil {
				return err
			}
			exp, err := exporter.NewExporter(esClient, metricConfigs, connCfg.Timeout, logger)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(exp)

			if f.once {
				return writeMetrics(cmd.OutOrStdout(), reg)
			}
			return serveMetrics(cmd.Context(), reg, f, logger)
		},
	}

	cmd.Flags().StringVar(&f.listenAddress, "web.listen-address", ":9488", "Address to listen on for web interface and telemetry.")
	cmd.Flags().StringVar(&f.metricsPath, "web.telemetry-path", "/metrics", "Path under which to expose metrics.")
	cmd.Flags().StringVar(&f.queriesDir, "config.queries.dir", "./queries", "Path to the directory containing query definition YAML files.")
	cmd.Flags().StringVar(&f.webConfigFile, "web.config.file", "", "Path to configuration file that can enable TLS or authentication.")
	cmd.Flags().BoolVar(&f.once, "once", false, "Collect once, print the metrics and exit.")

	return cmd
}

// writeMetrics prints one collection in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, g prometheus.Gatherer, f *exportFlags, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(f.metricsPath, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `<html>
			<head><title>esidx exporter</title></head>
			<body>
			<h1>esidx exporter</h1>
			<p><a href='%s'>Metrics</a></p>
			</body>
			</html>`, f.metricsPath)
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Warn("Shutdown signal received, shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.Info("Starting HTTP server", "address", f.listenAddress)
	err := web.ListenAndServe(server, &web.FlagConfig{
		WebListenAddresses: &[]string{f.listenAddress},
		WebSystemdSocket:   new(bool),
		WebConfigFile:      &f.webConfigFile,
	}, logger)
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("Server gracefully stopped")
		return nil
	}
	return err
}
