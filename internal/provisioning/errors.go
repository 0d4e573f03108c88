package provisioning

import "fmt"

// AliasNotFoundError is a NIC reference to an alias that matches no
// pre-existing VNet. Surfaces under SDN mode none, where the session
// creates no networks of its own.
type AliasNotFoundError struct {
	Alias string
}

func (e *AliasNotFoundError) Error() string {
	return fmt.Sprintf("no existing vnet matches alias %q", e.Alias)
}

// UnresolvedVnetAliasError is a NIC reference that resolves against neither
// the session's networks nor any pre-existing VNet.
type UnresolvedVnetAliasError struct {
	VM    string
	Alias string
}

func (e *UnresolvedVnetAliasError) Error() string {
	return fmt.Sprintf("vm %q: nic references unresolvable vnet %q", e.VM, e.Alias)
}

// OverlappingSubnetError is a requested subnet that overlaps an already
// existing one.
type OverlappingSubnetError struct {
	Requested string
	Existing  string
}

func (e *OverlappingSubnetError) Error() string {
	return fmt.Sprintf("subnet %s overlaps existing subnet %s", e.Requested, e.Existing)
}
