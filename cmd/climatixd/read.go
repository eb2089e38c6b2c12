package main

import (
	"fmt"

	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/spf13/cobra"
)

// readCmd reads point values straight off a controller.
var readCmd = &cobra.Command{
	Use:   "read <point-id> [point-id...]",
	Short: "Read point values directly from a controller",
	Long: `Read one or more point values directly from a controller, bypassing
the polling bridge. Useful for commissioning and connectivity checks.

The connection comes either from explicit flags or from a config file:

  climatixd read --host 192.168.1.50 "1!005121A700!2" "1!005121A700!3"
  climatixd read -c climatixd.yaml --controller boiler "1!005121A700!2"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	addProbeFlags(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	conn, err := probeConnection(cmd)
	if err != nil {
		return err
	}
	client, err := device.NewClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Read(cmd.Context(), args, device.DefaultChunkSize)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	// print in argument order
	for _, id := range args {
		value, ok := device.FirstValue(result.Values[id])
		if !ok {
			fmt.Printf("%s\t<missing>\n", id)
			continue
		}
		fmt.Printf("%s\t%v\n", id, value)
	}
	return nil
}
