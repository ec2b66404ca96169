// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Serial gateway flags
	portName string
	baudRate int

	// WebSocket gateway flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Device flags
	deviceAddress  string
	devicePassword string

	verbose bool

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aromalink",
	Short: "AromaTech diffuser link manager",
	Long: `Aromalink manages AromaTech scent diffusers through a BLE gateway.

Provides one-shot commands for power and intensity control, a monitor for
raw gateway traffic, an interactive control TUI, and a serve daemon that
exposes every configured diffuser over an HTTP API.

Gateway modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
AROMALINK_WS_PASSWORD environment variable, or prompted interactively if
not set. The --password flag is intentionally not provided to avoid
leaking credentials in shell history.`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).
			With().Timestamp().Logger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the gateway")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Gateway WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&deviceAddress, "address", "a", "", "Diffuser BLE address")
	rootCmd.PersistentFlags().StringVar(&devicePassword, "device-password", "", "Diffuser password (defaults to the factory code)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
