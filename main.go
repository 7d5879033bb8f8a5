package main

import (
	"os"

	"integration-gateway/internal/app"
)

// @title Integration Gateway API
// @version 1.0
// @description Credential lifecycle and rate-limited API gateway for connected marketing platforms
// @BasePath /
func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
