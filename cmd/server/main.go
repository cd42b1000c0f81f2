package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/config"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
	"github.com/himanishpuri/ReverseMapper/pkg/reversemapper"
)

var (
	configPath     string
	addr           string
	dbPath         string
	outDir         string
	allowedOrigins string
)

func init() {
	flag.StringVar(&configPath, "config", getEnvOrDefault("REVMAP_CONFIG", config.DefaultFile), "Settings file")
	flag.StringVar(&addr, "addr", os.Getenv("REVMAP_ADDR"), "Listen address (default from settings)")
	flag.StringVar(&dbPath, "db", os.Getenv("REVMAP_DB_PATH"), "Path to SQLite database (default from settings)")
	flag.StringVar(&outDir, "out", os.Getenv("REVMAP_OUT_DIR"), "Output directory (default from settings)")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(list string) []string {
	if list == "*" {
		return []string{"*"}
	}
	origins := strings.Split(list, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load settings: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if outDir != "" {
		cfg.Storage.OutDir = outDir
	}
	if lvl, ok := logger.ParseLevel(cfg.Log.Level); ok && os.Getenv("REVMAP_LOG_LEVEL") == "" {
		logger.SetLevel(lvl)
	}

	settings, err := cfg.Session()
	if err != nil {
		logger.Fatalf("Invalid settings: %v", err)
	}

	service, err := reversemapper.NewService(
		reversemapper.WithDBPath(cfg.Storage.DBPath),
		reversemapper.WithOutDir(cfg.Storage.OutDir),
		reversemapper.WithSettings(settings),
	)
	if err != nil {
		logger.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	server := NewServer(service, &ServerConfig{
		Addr:           cfg.Server.Addr,
		DBPath:         cfg.Storage.DBPath,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: parseOrigins(allowedOrigins),
		Settings:       settings,
		SessionIdle:    time.Duration(cfg.Server.SessionIdle) * time.Minute,
		CachedOutputs:  cfg.Server.CachedOutputs,
	})
	if err := server.Start(); err != nil {
		logger.Errorf("Server failed: %v", err)
		service.Close()
		os.Exit(1)
	}
}
