package main

import (
	"os"

	"github.com/quickmeds/gemini-relay/internal/config"
	"github.com/quickmeds/gemini-relay/pkg/relayapp"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	// Load environment files explicitly
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	app := relayapp.New(cfg)
	if err := app.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
