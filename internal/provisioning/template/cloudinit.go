package template

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/kdomanski/iso9660"
)

// defaultUserData is the first-boot configuration for built-in images.
// Installing the guest agent is what makes the build observable: the
// builder pings the agent to learn the VM is up, then runs
// "cloud-init status --wait" through it.
const defaultUserData = `#cloud-config
package_update: true
packages:
  - qemu-guest-agent
runcmd:
  - systemctl enable --now qemu-guest-agent
`

const defaultNetworkConfig = `version: 2
ethernets:
  all:
    match:
      name: "en*"
    dhcp4: true
`

// BuildSeedISO produces a cloud-init NoCloud seed ISO for a first boot of
// hostname. The volume label must be CIDATA for the NoCloud datasource to
// pick it up.
func BuildSeedISO(hostname string) ([]byte, error) {
	metaData := fmt.Sprintf("instance-id: %s\nlocal-hostname: %s\n", uuid.NewString(), hostname)

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("creating iso writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct {
		name string
		data string
	}{
		{"user-data", defaultUserData},
		{"meta-data", metaData},
		{"network-config", defaultNetworkConfig},
	}
	for _, f := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(f.data)), f.name); err != nil {
			return nil, fmt.Errorf("adding %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("writing iso: %w", err)
	}
	return buf.Bytes(), nil
}
