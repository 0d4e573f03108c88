package handlers

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/provisioning/destroy"
	"github.com/jcreedy/pvesandbox/internal/provisioning/session"
	"github.com/jcreedy/pvesandbox/internal/tracker"
)

// Up handles the up command.
//
// It provisions a complete sandbox session and prints the result. On
// failure or interrupt, everything already created is torn down unless
// keep is set.
func Up(ctx context.Context, configPath, outPath, name string, keep bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	api, conn, err := newAPI()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := tracker.New()
	result, err := session.Provision(ctx, cfg, api, reg, session.Options{
		FileStorage: conn.Storage,
		DiskStorage: conn.DiskStorage,
		Name:        name,
	})
	if err != nil {
		if keep {
			log.Printf("provisioning failed, keeping partial resources: %v", err)
			return err
		}
		log.Printf("provisioning failed, tearing down: %v", err)
		// Teardown gets a fresh context: the interrupt that killed
		// provisioning must not also kill the cleanup.
		report := destroy.Teardown(context.Background(), api, reg, provisioning.NewConsoleObserver(), config.LoadTimeouts())
		if terr := report.Err(); terr != nil {
			log.Printf("teardown incomplete: %v", terr)
		}
		return err
	}

	return writeResult(result, outPath)
}

func writeResult(result *session.Result, outPath string) error {
	raw, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	if outPath == "" {
		fmt.Print(string(raw))
		return nil
	}
	if err := os.WriteFile(outPath, raw, 0o600); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	log.Printf("session %s is up, result written to %s", result.Prefix, outPath)
	return nil
}
