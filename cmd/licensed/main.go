// licensed is the license controller daemon: it serves the admin HTTP
// API, broadcasts state transitions over WebSocket, and revalidates
// the license on a schedule.
package main

import (
	"log/slog"
	"os"

	"brvlicense/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize daemon", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("daemon exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
