package main

import (
	"context"
	"log/slog"
	"os"

	mcpgo "github.com/felixgeelhaar/mcp-go"

	"github.com/rkapoor/dbagent/pkg/dbtools"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	// Config.
	addr := os.Getenv("DBTOOLS_ADDR")
	if addr == "" {
		addr = ":8000"
	}
	dataDir := os.Getenv("DBTOOLS_DATA_DIR")
	if dataDir == "" {
		dataDir = "data/databases"
	}

	mgr, err := dbtools.New(dataDir)
	if err != nil {
		slog.Error("Failed to initialize database manager", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	srv := dbtools.NewServer("dbtools", "0.1.0", mgr)

	slog.Info("Starting capability server", "addr", addr, "dataDir", dataDir)
	if err := mcpgo.ServeHTTP(context.Background(), srv, addr); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
