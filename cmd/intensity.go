// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var intensityCmd = &cobra.Command{
	Use:   "intensity <level>",
	Short: "Set a diffuser's diffusion grade",
	Long: `Set a diffuser's diffusion grade.

Connects to the diffuser, authenticates and writes the new grade.
Out-of-range values are clamped to the device's reported maximum.`,
	Args: cobra.ExactArgs(1),
	RunE: runIntensity,
}

func init() {
	rootCmd.AddCommand(intensityCmd)
}

func runIntensity(cmd *cobra.Command, args []string) error {
	level, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid intensity %q: %w", args[0], err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sess, cleanup, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sess.SetIntensity(ctx, level); err != nil {
		return err
	}

	snap := sess.Snapshot()
	fmt.Printf("Device %s: intensity %d\n", deviceAddress, snap.State.Intensity)
	return nil
}
