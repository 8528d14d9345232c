package main

import (
	"context"
	"frame-diff/internal/env"
	"frame-diff/internal/runnable"
	"log"
)

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	ctx := context.Background()

	server := runnable.NewServer()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
