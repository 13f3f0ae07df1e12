package main

import (
	"fmt"
	"os"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/logging"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
)

func main() {
	logging.Setup()

	root := newRootCmd(openServices)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	_ = database.Close()
}

func openServices() (*services.Container, error) {
	cfg := config.Load()

	registry, err := plans.LoadFromFile(cfg.PlansConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}
	if err := database.Connect(cfg); err != nil {
		return nil, err
	}
	return services.NewContainer(cfg, database.DB, registry), nil
}
