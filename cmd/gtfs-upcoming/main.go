// Command gtfs-upcoming serves a JSON API of upcoming transit arrivals,
// merging a static GTFS bundle with a polled GTFS-Realtime feed.
package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seanrees/gtfs-upcoming/config"
	"github.com/seanrees/gtfs-upcoming/fetch"
	"github.com/seanrees/gtfs-upcoming/httpd"
	"github.com/seanrees/gtfs-upcoming/loader"
	"github.com/seanrees/gtfs-upcoming/schedule"
	"github.com/seanrees/gtfs-upcoming/transit"
)

var (
	configFile      string
	env             string
	port            int
	promPort        int
	gtfsDir         string
	loaderThreads   int
	loaderChunkSize int
	provider        string
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:          "gtfs-upcoming",
	Short:        "Serves upcoming transit arrivals from a GTFS bundle and realtime feed",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "config.ini", "Configuration file (INI file)")
	rootCmd.Flags().StringVar(&env, "env", "test", "Provider environment (e.g. test, prod, metrobus)")
	rootCmd.Flags().IntVar(&port, "port", 6824, "Port to run the webserver on")
	rootCmd.Flags().IntVar(&promPort, "promport", 0, "Port to run the Prometheus webserver on (0 disables it)")
	rootCmd.Flags().StringVar(&gtfsDir, "gtfs", "google_transit_combined", "Directory holding the GTFS static bundle")
	rootCmd.Flags().IntVar(&loaderThreads, "loader_max_threads", runtime.NumCPU(), "Max loader worker threads")
	rootCmd.Flags().IntVar(&loaderChunkSize, "loader_max_rows_per_chunk", loader.DefaultMaxRowsPerChunk, "Rows per loader chunk")
	rootCmd.Flags().StringVar(&provider, "provider", "nta", "Realtime provider: nta or vicroads")
	rootCmd.Flags().StringVar(&logLevel, "log_level", "info", "Log level: debug, info, warn, error")
}

// exitError carries the process exit code alongside the underlying error,
// matching the original's sys.exit(-1)/sys.exit(-2) distinction between a
// configuration problem and an incomplete GTFS bundle.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		if ee, ok := err.(*exitError); ok {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log_level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func run(cmd *cobra.Command, args []string) error {
	log, err := newLogger(logLevel)
	if err != nil {
		return &exitError{-1, err}
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting up gtfs-upcoming")

	if promPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", promPort)
			log.Info("starting Prometheus metrics server", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error("failed to read configuration", zap.Error(err))
		return &exitError{-1, err}
	}

	if len(cfg.InterestingStops) > 0 {
		log.Info("restricting to configured stops", zap.Int("count", len(cfg.InterestingStops)))
	} else {
		log.Info("loading data for all stops")
	}

	ld := loader.New(loader.Config{
		MaxThreads:      loaderThreads,
		MaxRowsPerChunk: loaderChunkSize,
	})

	log.Info("configured loader",
		zap.Int("threads", loaderThreads),
		zap.Int("rows_per_chunk", loaderChunkSize))

	if err := schedule.ValidateDirectory(gtfsDir); err != nil {
		log.Error("incomplete or missing GTFS bundle", zap.String("dir", gtfsDir), zap.Error(err))
		return &exitError{-2, fmt.Errorf("incomplete or missing GTFS database in %s: %w", gtfsDir, err)}
	}

	db := schedule.New(gtfsDir, cfg.InterestingStops, ld, log)
	if err := db.Load(); err != nil {
		log.Error("failed to load schedule database", zap.Error(err))
		return &exitError{-2, err}
	}
	log.Info("schedule database load complete")

	feed, err := fetch.New(provider, env, cfg.APIKeyPrimary, log)
	if err != nil {
		log.Error("failed to configure realtime fetcher", zap.Error(err))
		return &exitError{-1, err}
	}

	engine := transit.New(db, feed, nil, log)

	addr := fmt.Sprintf(":%d", port)
	server := httpd.New(addr, engine, feed, cfg.InterestingStops, provider, env, log)

	log.Info("starting HTTP server", zap.Int("port", port))
	return server.Serve()
}
