package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gregtusar/cryptex/pkg/feed"
	"github.com/gregtusar/cryptex/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var (
		serverURL  string
		instrument string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running server's stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			loadConfig()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client := feed.NewClient(serverURL)
			snap, err := client.Snapshot(ctx, instrument, "")
			if err != nil {
				return fmt.Errorf("initial snapshot: %w", err)
			}
			logger.WithFields(logrus.Fields{
				"instrument": instrument,
				"price":      snap.PriceDisplay,
				"seq":        snap.Seq,
			}).Info("Initial snapshot")

			stream := feed.NewStream(serverURL, logger)
			stream.RegisterHandler(func(u models.MarketUpdate) error {
				price, ok := u.Prices[instrument]
				if !ok {
					return nil
				}
				logger.WithFields(logrus.Fields{
					"instrument": instrument,
					"price":      snap.Instrument.FormatPrice(price),
					"seq":        u.Seq,
				}).Info("Update")
				return nil
			})
			if err := stream.Connect(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return stream.Close()
			case <-stream.Done():
				return fmt.Errorf("stream closed by server")
			}
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "cryptex server URL")
	cmd.Flags().StringVar(&instrument, "instrument", "btc", "instrument to follow")
	return cmd
}
