// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/bridge"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/pkg/aromalink"
)

var monitorLogin bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Log decoded diffuser notifications",
	Long: `Log decoded diffuser notifications in human-readable form.

Connects to the diffuser and prints every notification frame with a
timestamp, the frame name and a decoded summary. Presence reports and
link drops are printed as they arrive.

By default the monitor authenticates first, which triggers the device's
data burst and keeps notifications flowing. Use --no-login to watch a
link that is already authenticated by another client.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorLogin, "login", true, "Authenticate after connecting")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if deviceAddress == "" {
		return fmt.Errorf("--address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, connInfo, err := openLink(ctx)
	if err != nil {
		return err
	}
	mux := bridge.NewMux(link, logger)
	defer mux.Close()
	client := mux.Client(deviceAddress)

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", deviceAddress, err)
	}
	defer client.Disconnect()

	fmt.Printf("Monitoring %s via %s\n", deviceAddress, connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	password := devicePassword
	if password == "" {
		password = aromalink.DefaultPassword
	}

	// Newer firmware ignores the bare-password login and only answers the
	// pair-code form. Retry with the pair code if the device stays silent.
	var loginRetry <-chan time.Time
	if monitorLogin {
		if err := client.Write(aromalink.EncodeLogin(password, false)); err != nil {
			return fmt.Errorf("send login: %w", err)
		}
		loginRetry = time.After(2 * time.Second)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nMonitor stopped")
			return nil

		case <-loginRetry:
			loginRetry = nil
			if err := client.Write(aromalink.EncodeLogin(password, true)); err != nil {
				return fmt.Errorf("send login: %w", err)
			}

		case frame, ok := <-client.Notifications():
			if !ok {
				return bridge.ErrGatewayGone
			}
			loginRetry = nil
			ts := time.Now().Format("15:04:05.000")
			fmt.Printf("[%s] %s", ts, aromalink.FormatFrame(frame))

		case p, ok := <-client.Presences():
			if !ok {
				return bridge.ErrGatewayGone
			}
			fmt.Printf("[%s] PRESENCE rssi=%d\n", p.Seen.Format("15:04:05.000"), p.Signal)

		case cause, ok := <-client.Disconnects():
			if !ok {
				return bridge.ErrGatewayGone
			}
			fmt.Printf("[%s] LINK DROPPED: %v\n", time.Now().Format("15:04:05.000"), cause)
		}
	}
}
