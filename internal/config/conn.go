package config

import (
	"fmt"
	"os"
)

// Connection holds the platform endpoint settings.
type Connection struct {
	BaseURL     string
	Node        string
	User        string
	Password    string
	Storage     string // file storage for uploads
	DiskStorage string // block storage for VM disks
	InsecureTLS bool
}

// ConnectionFromEnv loads connection settings from the environment.
//
// Environment variables:
//   - PVESBX_URL       API root, e.g. https://pve.example:8006 (required)
//   - PVESBX_NODE      target node name (required)
//   - PVESBX_USER      e.g. root@pam (required)
//   - PVESBX_PASSWORD  password or API token secret (required)
//   - PVESBX_STORAGE   file storage for uploads (default: local)
//   - PVESBX_DISK_STORAGE  storage for VM disks (default: local-lvm)
//   - PVESBX_INSECURE_TLS  set to 1 to skip certificate verification
func ConnectionFromEnv() (*Connection, error) {
	conn := &Connection{
		BaseURL:     os.Getenv("PVESBX_URL"),
		Node:        os.Getenv("PVESBX_NODE"),
		User:        os.Getenv("PVESBX_USER"),
		Password:    os.Getenv("PVESBX_PASSWORD"),
		Storage:     os.Getenv("PVESBX_STORAGE"),
		DiskStorage: os.Getenv("PVESBX_DISK_STORAGE"),
		InsecureTLS: os.Getenv("PVESBX_INSECURE_TLS") == "1",
	}
	if conn.Storage == "" {
		conn.Storage = "local"
	}
	if conn.DiskStorage == "" {
		conn.DiskStorage = "local-lvm"
	}

	for _, required := range []struct {
		name, value string
	}{
		{"PVESBX_URL", conn.BaseURL},
		{"PVESBX_NODE", conn.Node},
		{"PVESBX_USER", conn.User},
		{"PVESBX_PASSWORD", conn.Password},
	} {
		if required.value == "" {
			return nil, fmt.Errorf("%s is not set", required.name)
		}
	}
	return conn, nil
}
