package naming

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

// Naming functions for sandbox session resources.
// Every resource created for a session carries the session prefix so it can
// be identified and swept even when the tracking process is gone.

// BuiltInZone is the reserved SDN zone used for first-boot networking of
// built-in template VMs. It never matches the session zone pattern, so sweeps
// leave it alone.
const BuiltInZone = "sbxvmz"

// builtInVMPrefix is the reserved name prefix for built-in template VMs.
const builtInVMPrefix = "pvesbx-"

var (
	prefixPattern      = regexp.MustCompile(`^[a-z]{3}[0-9]{3}$`)
	sessionZonePattern = regexp.MustCompile(`^[a-z]{3}[0-9]{3}z$`)
	dnsLabelPattern    = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// NewSessionPrefix generates a session prefix of three lowercase letters
// followed by three random digits. The letters come from hint so resources
// stay recognizable on the platform; an empty hint picks random letters.
// The derived zone id stays within the platform's 8 character zone id limit.
func NewSessionPrefix(rnd *rand.Rand, hint string) string {
	b := make([]byte, 6)
	copy(b, prefixLetters(rnd, hint))
	for i := 3; i < 6; i++ {
		b[i] = byte('0' + rnd.Intn(10))
	}
	return string(b)
}

// prefixLetters maps hint onto three lowercase letters. Characters outside
// a-z become 'x', as does padding for hints shorter than three characters.
func prefixLetters(rnd *rand.Rand, hint string) []byte {
	out := make([]byte, 3)
	if hint == "" {
		for i := range out {
			out[i] = byte('a' + rnd.Intn(26))
		}
		return out
	}

	runes := []rune(strings.ToLower(hint))
	for i := range out {
		if i < len(runes) && runes[i] >= 'a' && runes[i] <= 'z' {
			out[i] = byte(runes[i])
		} else {
			out[i] = 'x'
		}
	}
	return out
}

// IsSessionPrefix reports whether s is a well-formed session prefix.
func IsSessionPrefix(s string) bool {
	return prefixPattern.MatchString(s)
}

// Zone returns the SDN zone id for a session.
func Zone(prefix string) string {
	return prefix + "z"
}

// Vnet returns the VNet id for the i-th network of a session.
func Vnet(prefix string, i int) string {
	return fmt.Sprintf("%sv%d", prefix, i)
}

// VM returns the auto-generated name for the i-th VM of a session.
func VM(prefix string, i int) string {
	return fmt.Sprintf("%s-vm%d", prefix, i)
}

// BuiltInTemplate returns the reserved VM name for a built-in template.
func BuiltInTemplate(name string) string {
	return builtInVMPrefix + name
}

// IsSessionZone reports whether id names a session-created SDN zone.
func IsSessionZone(id string) bool {
	return sessionZonePattern.MatchString(id)
}

// IsDNSLabel reports whether s is a valid DNS label. VM names must be DNS
// labels because the platform rejects anything else at clone time.
func IsDNSLabel(s string) bool {
	return dnsLabelPattern.MatchString(s)
}
