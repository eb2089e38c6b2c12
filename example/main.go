package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/climatix-tools/climatixd"
	"github.com/climatix-tools/climatixd/example/mockdevice"
)

func main() {
	// start a mock controller (see the mockdevice package)
	go func() {
		if err := mockdevice.Serve(":8085"); err != nil {
			slog.Error("mock device error", "error", err)
			os.Exit(1)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	// a small boiler-plant point set; the setpoint reads on !9 and writes
	// on !10, the operating mode polls slow
	supply, _ := climatixd.NewPoint("1!005121A700!2")
	ret, _ := climatixd.NewPoint("1!005121A700!3")
	setpoint, _ := climatixd.NewPoint("1!005121A700!9",
		climatixd.WithMode(climatixd.PollFast),
		climatixd.WithWriteID("1!005121A700!10"),
	)
	mode, _ := climatixd.NewPoint("1!013000A700!11", climatixd.WithMode(climatixd.PollSlow))
	pump, _ := climatixd.NewPoint("1!005121A700!13")

	controller, err := climatixd.NewController("boiler", "127.0.0.1",
		[]climatixd.Point{supply, ret, setpoint, mode, pump},
		climatixd.WithPort(8085),
		climatixd.WithTickInterval(2*time.Second),
		climatixd.WithPollThreshold(10),
	)
	if err != nil {
		slog.Error("failed to create controller", "error", err)
		os.Exit(1)
	}

	bridge, err := climatixd.New(
		climatixd.WithControllers(controller),
		climatixd.WithListenPort(8624),
		climatixd.WithChangeCallback(func(ev climatixd.ChangeEvent) {
			slog.Info("value changed",
				"controller", ev.Controller,
				"point", ev.PointID,
				"from", ev.Previous,
				"to", ev.Current,
			)
		}),
	)
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}
	defer func() { _ = bridge.Close() }()

	border := strings.Repeat("═", 55)
	lines := []string{
		"",
		"climatixd Demo",
		"",
		"Polling a mock Climatix controller on :8085",
		"API: http://localhost:8624/api/points",
		"",
		"A setpoint write fires after 15 seconds; watch",
		"the change callback report the forced refresh.",
		"",
		"Press Ctrl+C to stop",
		"",
	}
	fmt.Println()
	fmt.Printf("  ╔%s╗\n", border)
	for _, line := range lines {
		fmt.Printf("  ║   %-52s║\n", line)
	}
	fmt.Printf("  ╚%s╝\n", border)
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// demonstrate the synchronous write path once the store is warm
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(15 * time.Second):
		}
		if err := bridge.WritePoint(ctx, "boiler", "1!005121A700!9", 22.5); err != nil {
			slog.Error("setpoint write failed", "error", err)
		}
	}()

	if err := bridge.Start(ctx); err != nil {
		slog.Error("climatixd error", "error", err)
		os.Exit(1)
	}
}
