package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("orderengine exited")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orderengine",
	Short: "Order execution engine with per-order status streaming",
	Long: `orderengine accepts orders over HTTP, routes each one to the best quoting
venue, simulates building and submitting the transaction, and streams every
stage of the order to a WebSocket client subscribed at /ws/orders/{orderId}.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}
