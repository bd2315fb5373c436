package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"studyhub/internal/app"
)

func main() {
	serverURL := pflag.String("server", envOrDefault("STUDYHUB_SERVER", "ws://localhost:8080/socket"), "websocket URL (e.g., ws://localhost:8080/socket)")
	joinAs := pflag.String("join", envOrDefault("STUDYHUB_JOIN", ""), "user id to prefill for joining")
	pflag.Parse()

	if err := app.RunClient(app.ClientConfig{ServerURL: *serverURL, JoinAs: *joinAs}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
