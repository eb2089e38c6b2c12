// Standalone mock Climatix controller for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockdevice
//
// Then in another terminal:
//
//	go run ./cmd/climatixd serve -c example/config.yaml
//	go run ./cmd/climatixd read --host 127.0.0.1 --port 8085 "1!005121A700!2"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/climatix-tools/climatixd/example/mockdevice"
)

func main() {
	fmt.Println("Mock Climatix controller starting on :8085")
	fmt.Println("Serving /JSONgen.html only; factory credentials, PIN 7659")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := mockdevice.Serve(":8085"); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
