// Package main is the entry point of the crewcall web host.
//
// MAIN PACKAGE IN GO:
// main stays minimal: read configuration, create the logger, start the
// server. Everything else lives in internal/.
//
// WHY cmd/server/?
// cmd/ holds one directory per executable. This one serves browsers;
// cmd/crewcall is the native runtime.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/crewcall/internal/config"
	"github.com/sakif/crewcall/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// .env (if present) and the environment, validated up front.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))

	// === 3. DATABASE DIRECTORY ===
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if !cfg.StorageEnabled() {
		logger.Warn("STORAGE_ENDPOINT not set; avatar uploads are disabled")
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
