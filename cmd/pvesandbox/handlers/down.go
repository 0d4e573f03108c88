package handlers

import (
	"context"
	"log"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/provisioning/destroy"
)

// Down handles the down command.
//
// It rediscovers the session's resources on the node by prefix and removes
// them, so it needs no state from the process that created the session.
func Down(ctx context.Context, prefix string) error {
	api, _, err := newAPI()
	if err != nil {
		return err
	}

	reg, err := destroy.FindSession(ctx, api, prefix)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		log.Printf("no resources found for session %s", prefix)
		return nil
	}

	log.Printf("tearing down session %s (%d resources)", prefix, reg.Len())
	report := destroy.Teardown(ctx, api, reg, provisioning.NewConsoleObserver(), config.LoadTimeouts())
	if err := report.Err(); err != nil {
		return err
	}
	log.Printf("session %s torn down (%d VMs, %d zones)", prefix, report.VMs, report.Zones)
	return nil
}
