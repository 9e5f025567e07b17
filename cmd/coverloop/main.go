package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/coverloop/coverloop/internal/infrastructure/cli"
)

func main() {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
