package runtime

import "strings"

// InterfaceVersionPrefix is the prefix every interface-version marker export
// must begin with; exactly one such export must exist on an accepted module.
const InterfaceVersionPrefix = "interface_version_"

// SupportedInterfaceVersions is the set of suffixes accepted after
// InterfaceVersionPrefix. The current revision supports exactly one.
var SupportedInterfaceVersions = map[string]bool{
	"8": true,
}

// RequiredExports are the guest function exports every accepted module must
// declare.
var RequiredExports = []string{"allocate", "deallocate", "fetch"}

// AllowedImports is the host-import allow-list of module.name pairs. The
// validator rejects any imported function not listed here and any imported
// memory; imported tables and globals are not inspected.
var AllowedImports = map[string]bool{
	"env.read":  true,
	"env.debug": true,
	"env.abort": true,
}

// RequiresPrefix marks an export name as declaring a capability the guest
// needs; the runtime advertises AdvertisedCapabilities as the full set it is
// able to satisfy.
const RequiresPrefix = "requires_"

// AdvertisedCapabilities is the set of capability names (without the
// RequiresPrefix) this runtime is able to satisfy. Empty by default: no
// optional capabilities beyond the mandatory read/debug/abort surface are
// implemented.
var AdvertisedCapabilities = map[string]bool{}

// ParseInterfaceVersion reports the version suffix of an export name if it
// begins with InterfaceVersionPrefix, and whether it matched at all.
func ParseInterfaceVersion(exportName string) (version string, ok bool) {
	if !strings.HasPrefix(exportName, InterfaceVersionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(exportName, InterfaceVersionPrefix), true
}

// ParseCapability reports the capability name of an export if it begins
// with RequiresPrefix.
func ParseCapability(exportName string) (capability string, ok bool) {
	if !strings.HasPrefix(exportName, RequiresPrefix) {
		return "", false
	}
	return strings.TrimPrefix(exportName, RequiresPrefix), true
}
