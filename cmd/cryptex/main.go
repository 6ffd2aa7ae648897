package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregtusar/cryptex/api"
	"github.com/gregtusar/cryptex/internal/config"
	"github.com/gregtusar/cryptex/pkg/hub"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/gregtusar/cryptex/pkg/portfolio"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cryptex",
		Short: "Synthetic crypto market-data engine",
		Long:  `Generates live-looking prices, candles, depth and trade prints for a fixed set of instruments and serves them over a local read API`,
		Run:   runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the market hub and the read API",
		Run:   runServe,
	})
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger = cfg.NewLogger()
	return cfg
}

func buildHub(cfg *config.Config, clock hub.Clock) *hub.Hub {
	opts, err := cfg.MarketOptions(logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid market options")
	}
	opts.Clock = clock

	h, err := hub.New(opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create market hub")
	}
	for _, inst := range cfg.InstrumentList() {
		if err := h.RegisterInstrument(inst); err != nil {
			logger.WithError(err).WithField("instrument", inst.ID).Fatal("Failed to register instrument")
		}
	}
	return h
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := buildHub(cfg, nil)
	if err := h.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start market hub")
	}

	apiServer := api.NewServer(h, logger, api.Options{
		Port:             cfg.Server.Port,
		RateLimit:        cfg.Server.RateLimit,
		RateBurst:        cfg.Server.RateBurst,
		StreamPing:       cfg.Server.StreamPing,
		DefaultTimeframe: cfg.Market.DefaultTimeframe,
		Holdings:         cfg.Portfolio.Holdings,
		BasePrices:       cfg.BasePrices(),
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Cryptex is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown")
	}
	h.Stop()
	cancel()

	logger.Info("Cryptex stopped")
}

func simulateCmd() *cobra.Command {
	var (
		ticks      int
		instrument string
		timeframe  string
		start      string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a headless deterministic session and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if timeframe == "" {
				timeframe = cfg.Market.DefaultTimeframe
			}
			startTime, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			clock := hub.NewManualClock(startTime)
			h := buildHub(cfg, clock)
			for i := 0; i < ticks; i++ {
				clock.Add(cfg.Market.TickInterval)
				h.Advance()
			}
			return printSimulation(cmd, h, cfg, instrument, timeframe)
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 100, "number of advances to run")
	cmd.Flags().StringVar(&instrument, "instrument", "btc", "instrument to print")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "candle timeframe to print (default from config)")
	cmd.Flags().StringVar(&start, "start", "2024-01-01T00:00:00Z", "session start time (RFC3339)")
	return cmd
}

func printSimulation(cmd *cobra.Command, h *hub.Hub, cfg *config.Config, instrument, timeframe string) error {
	snap, err := h.Snapshot(instrument)
	if err != nil {
		return err
	}
	view, err := api.BuildSnapshotView(snap, timeframe, h.Options().MAPeriod)
	if err != nil {
		return err
	}
	ladder, err := h.DepthLadder(instrument, 0)
	if err != nil {
		return err
	}

	out := struct {
		Snapshot  models.SnapshotView `json:"snapshot"`
		Depth     models.DepthView    `json:"depth"`
		Portfolio portfolio.Summary   `json:"portfolio"`
	}{
		Snapshot:  view,
		Depth:     api.BuildDepthView(instrument, ladder),
		Portfolio: portfolio.Value(cfg.Portfolio.Holdings, h.Current(), cfg.BasePrices()),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
