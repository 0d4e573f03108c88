package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sdn:
  mode: custom
  vnets:
    - alias: lan
      subnets:
        - cidr: 192.168.7.0/24
          gateway: 192.168.7.1
          snat: true
          dhcpRanges:
            - start: 192.168.7.50
              end: 192.168.7.100
        - cidr: 192.168.8.0/24
vms:
  - name: web
    source:
      builtIn: ubuntu-24.04
    nicController: e1000
    nics:
      - vnet: lan
  - source:
      existingTemplateTag: golden-image
    ramMB: 4096
    vcpus: 4
    uefi: true
    isSandbox: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.VMs, 2)
	assert.Equal(t, "web", cfg.VMs[0].Name)
	assert.Equal(t, 2048, cfg.VMs[0].RAMMB)
	assert.Equal(t, 2, cfg.VMs[0].VCPUs)
	assert.True(t, cfg.VMs[0].Sandbox())
	require.NotNil(t, cfg.VMs[0].NICs)
	assert.Equal(t, "e1000", (*cfg.VMs[0].NICs)[0].Model)

	assert.Empty(t, cfg.VMs[1].Name)
	assert.Equal(t, 4096, cfg.VMs[1].RAMMB)
	assert.True(t, cfg.VMs[1].UEFI)
	assert.False(t, cfg.VMs[1].Sandbox())
	assert.Nil(t, cfg.VMs[1].NICs)

	assert.Equal(t, SDNCustom, cfg.SDN.Mode)
	assert.True(t, cfg.SDN.SharedDHCP())

	require.Len(t, cfg.SDN.Vnets, 1)
	require.Len(t, cfg.SDN.Vnets[0].Subnets, 2)
	assert.Equal(t, "192.168.8.0/24", cfg.SDN.Vnets[0].Subnets[1].CIDR)
}

func TestLoad_DefaultsToAutoSDN(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vms:
  - source:
      builtIn: ubuntu-24.04
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SDNAuto, cfg.SDN.Mode)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`vms: []`), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "at least one VM")
}

func TestLoad_EmptyNICsVsNil(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sdn:
  mode: none
vms:
  - source:
      builtIn: ubuntu-24.04
    nics: []
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.VMs[0].NICs)
	assert.Empty(t, *cfg.VMs[0].NICs)
}

func TestLoadTimeouts_Defaults(t *testing.T) {
	timeouts := LoadTimeouts()
	assert.Equal(t, 2*time.Minute, timeouts.TaskShort)
	assert.Equal(t, 20*time.Minute, timeouts.TaskLong)
	assert.Equal(t, 5*time.Minute, timeouts.AgentWait)
	assert.Equal(t, 3, timeouts.RetryMaxAttempts)
}

func TestLoadTimeouts_EnvOverride(t *testing.T) {
	t.Setenv("PVESBX_TIMEOUT_TASK_SHORT", "30s")
	t.Setenv("PVESBX_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("PVESBX_TIMEOUT_TASK_LONG", "not-a-duration")

	timeouts := LoadTimeouts()
	assert.Equal(t, 30*time.Second, timeouts.TaskShort)
	assert.Equal(t, 7, timeouts.RetryMaxAttempts)
	assert.Equal(t, 20*time.Minute, timeouts.TaskLong)
}

func TestConnectionFromEnv(t *testing.T) {
	t.Setenv("PVESBX_URL", "https://pve.example:8006")
	t.Setenv("PVESBX_NODE", "pve")
	t.Setenv("PVESBX_USER", "root@pam")
	t.Setenv("PVESBX_PASSWORD", "secret")
	t.Setenv("PVESBX_STORAGE", "")
	t.Setenv("PVESBX_INSECURE_TLS", "1")

	conn, err := ConnectionFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "local", conn.Storage)
	assert.True(t, conn.InsecureTLS)

	t.Setenv("PVESBX_PASSWORD", "")
	_, err = ConnectionFromEnv()
	assert.ErrorContains(t, err, "PVESBX_PASSWORD")
}
