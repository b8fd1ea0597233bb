package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"squidrid-ng/internal/config"
	"squidrid-ng/internal/web"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "./squidrid.yaml", "Path to YAML config")
	flag.StringVar(&envPath, "env", ".env", "Optional dotenv file with SQUIDRID_* overrides")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("env load failed path=%s: %v", envPath, err)
	}

	cfg, err := loadConfig(configPath, os.Getenv)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, logs)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("squidrid-ng starting source=%s listen=%s", rt.source, cfg.Web.Listen)
	if err := rt.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("squidrid-ng stopped: %v", err)
	}
	log.Printf("squidrid-ng stopping")
}

// loadConfig reads path, falling back to defaults when the file does not
// exist, then applies environment overrides.
func loadConfig(path string, getenv func(string) string) (config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("config path=%s not found, using defaults", path)
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv(getenv)
	return cfg, nil
}
