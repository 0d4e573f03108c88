// Package handlers implements the CLI command logic.
package handlers

import (
	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
)

// newAPI builds the platform client from the environment. A factory
// variable so handler tests can substitute a mock.
var newAPI = func() (proxmox.API, *config.Connection, error) {
	conn, err := config.ConnectionFromEnv()
	if err != nil {
		return nil, nil, err
	}

	opts := []proxmox.ClientOption{proxmox.WithStorage(conn.Storage)}
	if conn.InsecureTLS {
		opts = append(opts, proxmox.WithInsecureTLS())
	}
	client := proxmox.NewClient(conn.BaseURL, conn.Node, conn.User, conn.Password, opts...)
	return client, conn, nil
}
