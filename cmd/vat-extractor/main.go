package main

import (
	"log/slog"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/fiscallens/internal/gcp"
	"github.com/Lllllllleong/fiscallens/internal/handlers"
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: gcp.LogLevel()}))
	slog.SetDefault(logger)

	// "HandleExtractVAT" is called by the workflow, "ExtractAndSaveVAT" by CloudEvent dispatch.
	functions.HTTP("HandleExtractVAT", handlers.ExtractVAT)
	functions.CloudEvent("ExtractAndSaveVAT", handlers.ExtractAndSaveVAT)
}

// main is required by the Go Functions Framework.
func main() {}
