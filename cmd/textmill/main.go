package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// Optional .env for local development; real deployments use the config
	// file plus environment overrides.
	_ = godotenv.Load()
	runServe()
}
