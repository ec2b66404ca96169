// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/bridge"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/session"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling a diffuser",
	Long: `Control a diffuser via an interactive terminal UI.

Shows live device state including oil levels, schedules and battery, and
provides power and intensity control. The underlying session reconnects
automatically when a running diffuser drops off the link.

Keys:
  space   toggle power
  +/-     adjust intensity
  i       focus the intensity input (Enter applies)
  r       re-read device information
  tab     switch panels
  q       quit`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	if deviceAddress == "" {
		return fmt.Errorf("--address is required")
	}

	link, connInfo, err := openLink(context.Background())
	if err != nil {
		return err
	}
	mux := bridge.NewMux(link, logger)
	defer mux.Close()

	client := mux.Client(deviceAddress)
	sess := session.New(session.Config{
		Address:  deviceAddress,
		Password: devicePassword,
	}, client, logger)
	defer sess.Shutdown()

	go pumpPresence(client, sess)

	m := initialControlModel(sess, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Snapshot feed into the TUI. The subscription drops stale frames
	// on its own, so a busy redraw never backs the session up.
	snapshots, cancelSub := sess.Subscribe()
	defer cancelSub()
	go func() {
		for snap := range snapshots {
			p.Send(snapshotMsg(snap))
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
