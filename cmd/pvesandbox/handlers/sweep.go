package handlers

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/provisioning/destroy"
)

// Sweep handles the sweep command.
//
// It finds every sandbox-owned resource on the node and removes it after
// confirmation. With yes set the prompt is skipped; without a terminal the
// prompt cannot run and the sweep refuses instead of destroying silently.
func Sweep(ctx context.Context, yes bool) error {
	api, _, err := newAPI()
	if err != nil {
		return err
	}

	orphans, err := destroy.FindOrphans(ctx, api)
	if err != nil {
		return err
	}
	if orphans.Empty() {
		fmt.Println("Nothing to sweep.")
		return nil
	}

	fmt.Print(renderOrphans(orphans))

	if !yes {
		if !stdoutIsTerminal() {
			return fmt.Errorf("no terminal for confirmation, re-run with --yes")
		}
		var confirm bool
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete %d VM(s) and %d zone(s)?", len(orphans.VMs), len(orphans.Zones))).
					Description("This removes the listed resources permanently").
					Value(&confirm),
			),
		).RunWithContext(ctx)
		if err != nil {
			return err
		}
		if !confirm {
			fmt.Println("Sweep aborted.")
			return nil
		}
	}

	report := destroy.Purge(ctx, api, orphans, provisioning.NewConsoleObserver(), config.LoadTimeouts())
	if err := report.Err(); err != nil {
		return err
	}
	log.Printf("swept %d VMs and %d zones", report.VMs, report.Zones)
	return nil
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
