// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/api"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/bridge"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/config"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/session"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diffuser management daemon",
	Long: `Run the diffuser management daemon.

Opens the gateway link, starts a session per configured diffuser and
serves the HTTP control API. Sessions connect on demand, disconnect
after idling and reconnect automatically when a running diffuser drops
off the link.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, err := openConfiguredLink(ctx, cfg, log)
	if err != nil {
		return err
	}

	// One mux owns the link's event stream and fans envelopes out to the
	// per-device clients by address.
	mux := bridge.NewMux(link, log)
	defer mux.Close()

	controllers := make(map[string]api.Controller, len(cfg.Devices))
	names := make(map[string]string, len(cfg.Devices))
	sessions := make([]*session.Session, 0, len(cfg.Devices))

	for _, dev := range cfg.Devices {
		devLog := log.With().Str("device", dev.Address).Logger()
		client := mux.Client(dev.Address)
		sess := session.New(cfg.SessionConfig(dev), client, devLog)

		go pumpPresence(client, sess)

		controllers[dev.Address] = sess
		names[dev.Address] = dev.Name
		sessions = append(sessions, sess)

		devLog.Info().Str("name", dev.Name).Msg("device registered")
	}
	defer func() {
		for _, sess := range sessions {
			sess.Shutdown()
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:           api.New(controllers, names, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("addr", server.Addr).
		Int("devices", len(cfg.Devices)).
		Str("gateway", cfg.Gateway.Mode).
		Msg("daemon started")

	return api.RunServer(ctx, server, log)
}

// pumpPresence feeds gateway advertisement reports into the session
// until the link closes.
func pumpPresence(client *bridge.Client, sess *session.Session) {
	for p := range client.Presences() {
		sess.HandlePresence(p.Seen, p.Signal)
	}
}

func openConfiguredLink(ctx context.Context, cfg *config.Config, log zerolog.Logger) (bridge.Link, error) {
	switch cfg.Gateway.Mode {
	case "serial":
		return bridge.OpenSerialLink(cfg.Gateway.Serial.Port, cfg.Gateway.Serial.BaudRate, log)
	case "websocket":
		password := cfg.Gateway.WebSocket.Password
		if password == "" && cfg.Gateway.WebSocket.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return bridge.DialWSLink(ctx, bridge.WSOptions{
			URL:           cfg.Gateway.WebSocket.URL,
			Username:      cfg.Gateway.WebSocket.Username,
			Password:      password,
			SkipSSLVerify: cfg.Gateway.WebSocket.SkipSSLVerify,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.Gateway.Mode)
	}
}

func buildLogger(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var log zerolog.Logger
	switch cfg.Format {
	case "json":
		log = zerolog.New(os.Stderr)
	default:
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}
