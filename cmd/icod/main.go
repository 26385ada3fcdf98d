package main

import (
	"log"
	"os"

	"tecnoico/internal/app"
	"tecnoico/internal/config"
)

func main() {
	cfgPath := os.Getenv("CONFIG")
	if cfgPath == "" {
		cfgPath = "cmd/icod/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed load config, error=%v", err)
	}

	if err = app.Run(cfg); err != nil {
		log.Fatalf("App run is failed, error=%v", err)
	}
}
