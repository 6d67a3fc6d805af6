package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"

	"github.com/rkapoor/dbagent/pkg/capability"
	"github.com/rkapoor/dbagent/pkg/mcp"
	"github.com/rkapoor/dbagent/pkg/model/gemini"
	"github.com/rkapoor/dbagent/pkg/server"
	"github.com/rkapoor/dbagent/pkg/store/sqlite"
)

func main() {
	setupLogger()

	// Config.
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		slog.Error("GEMINI_API_KEY environment variable not set")
		os.Exit(1)
	}
	mcpURL := os.Getenv("DBAGENT_MCP_URL")
	if mcpURL == "" {
		mcpURL = "http://127.0.0.1:8000/mcp"
	}
	addr := os.Getenv("DBAGENT_ADDR")
	if addr == "" {
		addr = ":5001"
	}
	defaultModel := os.Getenv("DBAGENT_MODEL")
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}

	ctx := context.Background()

	// Initialize store.
	dbPath := os.Getenv("DBAGENT_DB")
	if dbPath == "" {
		wd, _ := os.Getwd()
		dbPath = filepath.Join(wd, "data", "dbagent.db")
	}
	os.MkdirAll(filepath.Dir(dbPath), 0755)

	st, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize model provider.
	provider, err := gemini.New(ctx, apiKey)
	if err != nil {
		slog.Error("Failed to initialize Gemini provider", "error", err)
		os.Exit(1)
	}

	// Connect to the capability server and discover tools.
	client := mcp.NewClient(mcpURL, mcp.WithClientInfo("dbagent", "0.1.0"))
	if err := client.Connect(ctx); err != nil {
		slog.Error("Failed to connect to capability server", "url", mcpURL, "error", err)
		os.Exit(1)
	}
	catalog, err := capability.Fetch(ctx, client)
	if err != nil {
		slog.Error("Failed to fetch capability catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Discovered capabilities", "count", catalog.Len())

	// Start server.
	srv := server.New(st, st, provider, catalog, capability.NewInvoker(client), client, defaultModel)
	if err := srv.Start(addr); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// setupLogger writes text logs to stderr, fanning out JSON logs to a file
// when DBAGENT_LOG_FILE is set.
func setupLogger() {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}

	if logFile := os.Getenv("DBAGENT_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("Failed to open log file", "path", logFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))
}
