package main

import (
	"fmt"

	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/spf13/cobra"
)

// writeCmd writes one point value straight to a controller.
var writeCmd = &cobra.Command{
	Use:   "write <point-id> <value>",
	Short: "Write a point value directly to a controller",
	Long: `Write a single point value directly to a controller, bypassing the
polling bridge. Numbers are sent as numerics, true/false as booleans,
anything else as text.

Controller flash tolerates a limited number of write cycles; use sparingly.

  climatixd write --host 192.168.1.50 "1!005121A700!10" 21.5
  climatixd write -c climatixd.yaml --controller boiler "1!005121A700!10" true`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	addProbeFlags(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	conn, err := probeConnection(cmd)
	if err != nil {
		return err
	}
	client, err := device.NewClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	id, value := args[0], parseProbeValue(args[1])
	if _, err := client.Write(cmd.Context(), id, value); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	fmt.Printf("wrote %v to %s\n", value, id)
	return nil
}
