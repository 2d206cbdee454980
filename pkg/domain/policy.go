package domain

import (
	"fmt"
	"strings"
)

// HostDeletePolicy decides what happens to a host's services when the host
// is deleted.
type HostDeletePolicy string

// Host delete policies.
const (
	// RetainServices leaves services untouched; their host_id keeps pointing
	// at the removed host.
	RetainServices HostDeletePolicy = "retain"
	// NullifyServices clears host_id on the host's services.
	NullifyServices HostDeletePolicy = "nullify"
	// CascadeServices deletes the host's services along with it.
	CascadeServices HostDeletePolicy = "cascade"
	// RestrictServices fails the commit while services still reference the host.
	RestrictServices HostDeletePolicy = "restrict"
)

// ParseHostDeletePolicy resolves a configured policy name. The empty string
// selects RetainServices.
func ParseHostDeletePolicy(name string) (HostDeletePolicy, error) {
	switch p := HostDeletePolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return RetainServices, nil
	case RetainServices, NullifyServices, CascadeServices, RestrictServices:
		return p, nil
	default:
		return "", fmt.Errorf("unknown host delete policy %q", name)
	}
}
