// Command fiscallens-dev serves every function on one local port.
//
// Select a function with the FUNCTION_TARGET environment variable, e.g.
// FUNCTION_TARGET=HandleDocuments go run ./cmd/fiscallens-dev
package main

import (
	"log/slog"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/joho/godotenv"

	"github.com/Lllllllleong/fiscallens/internal/gcp"
	"github.com/Lllllllleong/fiscallens/internal/handlers"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: gcp.LogLevel()}))
	slog.SetDefault(logger)

	functions.HTTP("HandleUploadDocument", handlers.UploadDocument)
	functions.HTTP("HandleDocuments", handlers.Documents)
	functions.HTTP("HandleExtractVAT", handlers.ExtractVAT)
	functions.CloudEvent("ExtractAndSaveVAT", handlers.ExtractAndSaveVAT)

	port := gcp.GetEnv("PORT", "8080")
	slog.Info("Starting local functions server.", "port", port, "target", os.Getenv("FUNCTION_TARGET"))
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}
