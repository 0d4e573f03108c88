package handlers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jcreedy/pvesandbox/internal/provisioning/destroy"
)

var (
	sweepColorBlue  = lipgloss.Color("#3b82f6")
	sweepColorDim   = lipgloss.Color("#6b7280")
	sweepColorWhite = lipgloss.Color("#f9fafb")
)

var (
	sweepTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(sweepColorWhite)

	sweepSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(sweepColorBlue)

	sweepDimStyle = lipgloss.NewStyle().
			Foreground(sweepColorDim)
)

// renderOrphans produces a lipgloss-styled listing of what a sweep would
// remove.
func renderOrphans(orphans destroy.Orphans) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(sweepTitleStyle.Render("  pvesandbox sweep"))
	b.WriteString("\n")
	b.WriteString(sweepDimStyle.Render("  " + strings.Repeat("═", 30)))
	b.WriteString("\n")

	if len(orphans.VMs) > 0 {
		b.WriteString("\n")
		b.WriteString(sweepSectionStyle.Render("  VMs"))
		b.WriteString("\n")
		b.WriteString(sweepDimStyle.Render(fmt.Sprintf("  %-6s %-24s %-10s %s", "VMID", "Name", "Status", "Tags")))
		b.WriteString("\n")
		for _, vm := range orphans.VMs {
			fmt.Fprintf(&b, "  %-6d %-24s %-10s %s\n", vm.VMID, vm.Name, vm.Status, vm.Tags)
		}
	}

	if len(orphans.Zones) > 0 {
		b.WriteString("\n")
		b.WriteString(sweepSectionStyle.Render("  Zones"))
		b.WriteString("\n")
		for _, zone := range orphans.Zones {
			fmt.Fprintf(&b, "  %s\n", zone.Zone)
		}
	}

	b.WriteString("\n")
	return b.String()
}
