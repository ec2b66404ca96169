// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var powerIntensity int

var powerCmd = &cobra.Command{
	Use:   "power {on|off}",
	Short: "Switch a diffuser on or off",
	Long: `Switch a diffuser on or off.

Connects to the diffuser through the gateway, authenticates, issues the
power command and disconnects. With --intensity, the diffusion grade is
set in the same session.

Examples:
  aromalink power on --address AA:BB:CC:DD:EE:FF --port /dev/ttyUSB0
  aromalink power on --intensity 3 -a AA:BB:CC:DD:EE:FF -u ws://gw.local/ble
  aromalink power off -a AA:BB:CC:DD:EE:FF -p /dev/ttyUSB0`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runPower,
}

func init() {
	powerCmd.Flags().IntVarP(&powerIntensity, "intensity", "i", 0, "Diffusion grade to set while switching on")
	rootCmd.AddCommand(powerCmd)
}

func runPower(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	switch args[0] {
	case "on":
		if err := sess.PowerOn(ctx, powerIntensity); err != nil {
			return err
		}
	case "off":
		if err := sess.PowerOff(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid argument %q (use on or off)", args[0])
	}

	snap := sess.Snapshot()
	fmt.Printf("Device %s: power %s, intensity %d\n", deviceAddress, args[0], snap.State.Intensity)
	return nil
}
