package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/y3owk1n/kioku/internal/cache"
	"github.com/y3owk1n/kioku/internal/config"
	"github.com/y3owk1n/kioku/internal/infra/clock"
	"github.com/y3owk1n/kioku/internal/infra/logger"
	"github.com/y3owk1n/kioku/internal/infra/metrics"
	"github.com/y3owk1n/kioku/internal/protocol"
	"github.com/y3owk1n/kioku/internal/server"
	"go.uber.org/zap"
)

var (
	serveHost    string
	servePort    int
	serveMemMB   uint64
	serveMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache server in the foreground",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Address to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().Uint64Var(&serveMemMB, "mem", 64, "Cache memory budget in MiB")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Enable the internal timing collector")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Flags beat the config file when given explicitly
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	if cmd.Flags().Changed("mem") {
		cfg.Cache.MemoryLimitMB = serveMemMB
	}

	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = serveMetrics
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return validateErr
	}

	initErr := logger.Init(
		cfg.Logging.Level,
		cfg.Logging.File,
		cfg.Logging.Structured,
		cfg.Logging.DisableFile,
		cfg.Logging.MaxFileSize,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAge,
		nil,
	)
	if initErr != nil {
		return initErr
	}

	defer func() {
		_ = logger.Close()
	}()

	log := logger.Get()

	clk := clock.System{}

	engine := cache.New(cfg.CapacityBytes(), clk, log).
		WithItemLifetime(cfg.Cache.ItemLifetime).
		WithKeyMaxlen(cfg.Cache.KeyMaxlen).
		WithValueMaxlen(cfg.Cache.ValueMaxlen)

	driver := protocol.NewDriver(engine, clk, Version, log)

	var collector metrics.Collector = &metrics.NoOpCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	srv, srvErr := server.New(cfg.Addr(), driver, log, collector)
	if srvErr != nil {
		return srvErr
	}

	srv.Start()

	log.Info("kioku started",
		zap.String("version", Version),
		zap.String("addr", cfg.Addr()),
		zap.Uint64("capacity_bytes", cfg.CapacityBytes()))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	received := <-signals
	log.Info("shutting down", zap.String("signal", received.String()))

	return srv.Stop()
}
