// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read and print a diffuser's state",
	Long: `Read and print a diffuser's state.

Connects, authenticates, waits for the data burst the device sends after
login, fills in any gaps with explicit reads and prints the result.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sess.ReadDeviceInfo(ctx); err != nil {
		return err
	}

	snap := sess.Snapshot()

	name := snap.State.DeviceName
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("Device:    %s (%s)\n", name, deviceAddress)
	if snap.State.ProductName != "" {
		fmt.Printf("Product:   %s\n", snap.State.ProductName)
	}
	if snap.State.DeviceLabel != "" {
		fmt.Printf("Label:     %s\n", snap.State.DeviceLabel)
	}
	if snap.State.DeviceIdentifier != "" {
		fmt.Printf("Serial:    %s\n", snap.State.DeviceIdentifier)
	}
	fmt.Printf("Protocol:  V%.1f\n", snap.Info.BlueVersion)
	if snap.State.PCBVersion != "" || snap.State.EquipmentVersion != "" {
		fmt.Printf("Firmware:  pcb=%s equipment=%s\n", snap.State.PCBVersion, snap.State.EquipmentVersion)
	}

	power := "off"
	if snap.State.IsOn {
		power = "on"
	}
	fmt.Printf("Power:     %s\n", power)
	fmt.Printf("Intensity: %d / %d\n", snap.State.Intensity, snap.Info.MaxIntensity)
	if snap.Info.HasFan {
		fan := "off"
		if snap.State.FanOn {
			fan = "on"
		}
		fmt.Printf("Fan:       %s\n", fan)
	}
	if snap.Info.HasBattery {
		fmt.Printf("Battery:   %d%%\n", snap.State.BatteryLevel)
	}

	if len(snap.State.Oils) > 0 {
		fmt.Println("Oils:")
		for i, oil := range snap.State.Oils {
			fmt.Printf("  %d. %-16s %5.1f%% (%d/%d)\n", i+1, oil.Name, oil.Percentage(), oil.Remainder, oil.Total)
		}
	}

	if len(snap.State.Schedules) > 0 {
		fmt.Println("Schedules:")
		for _, slot := range snap.State.Schedules {
			state := " "
			if slot.Enabled {
				state = "*"
			}
			fmt.Printf("  %s slot %d: %02d:%02d-%02d:%02d days=%s intensity=%d\n",
				state, slot.Index, slot.HourOn, slot.MinuteOn, slot.HourOff, slot.MinuteOff,
				slot.RepeatMask(), slot.Intensity)
		}
	}

	return nil
}
