// Package security implements the role model, the read-only safety gate, and
// the audit trail for federated queries.
//
// Roles are trusted parameters supplied by the caller. Each role maps to a
// fixed set of capabilities; a capability entitles the role to one
// non-base store in the federation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies a caller class. The zero value is not a valid role.
type Role int

const (
	// SensorViewer sees only the base sensor store.
	SensorViewer Role = iota + 1
	// MaintenanceManager additionally sees maintenance work orders.
	MaintenanceManager
	// RevenueAnalyst additionally sees asset revenue.
	RevenueAnalyst
	// PlantDirector sees every store.
	PlantDirector

	roleEnd
)

// roleCount is the number of defined roles.
const roleCount = int(roleEnd) - 1

var roleNames = [roleCount]string{
	"SensorViewer",
	"MaintenanceManager",
	"RevenueAnalyst",
	"PlantDirector",
}

// ErrUnknownRole is returned when a role name or value is not one of the
// defined roles.
var ErrUnknownRole = errors.New("unknown role")

// String returns the canonical role name.
func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r-1]
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	return r >= SensorViewer && r < roleEnd
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole resolves a role name. Matching ignores case, underscores,
// hyphens and spaces, so "plant_director" and "PlantDirector" are the same.
func ParseRole(name string) (Role, error) {
	key := normalizeRoleName(name)
	if key == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownRole)
	}
	for i, n := range roleNames {
		if normalizeRoleName(n) == key {
			return Role(i + 1), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

func normalizeRoleName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Roles returns every defined role in declaration order.
func Roles() []Role {
	roles := make([]Role, 0, roleCount)
	for r := SensorViewer; r < roleEnd; r++ {
		roles = append(roles, r)
	}
	return roles
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability names a permission that entitles a role to one store.
type Capability string

const (
	// CapMaintenance grants the maintenance store.
	CapMaintenance Capability = "access:maintenance"
	// CapRevenue grants the revenue store.
	CapRevenue Capability = "access:revenue"
)

// AllCapabilities returns every capability known to the role table.
func AllCapabilities() []Capability {
	return []Capability{CapMaintenance, CapRevenue}
}

// KnownCapability reports whether c is one of AllCapabilities.
func KnownCapability(c Capability) bool {
	for _, known := range AllCapabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// Grants is an immutable set of capabilities.
type Grants struct {
	caps map[Capability]struct{}
}

// NewGrants builds a capability set.
func NewGrants(caps ...Capability) Grants {
	g := Grants{caps: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		g.caps[c] = struct{}{}
	}
	return g
}

// Has reports whether the set contains c. The empty capability (the base
// store) is always held.
func (g Grants) Has(c Capability) bool {
	if c == "" {
		return true
	}
	_, ok := g.caps[c]
	return ok
}

// Len returns the number of capabilities in the set.
func (g Grants) Len() int {
	return len(g.caps)
}

// List returns the capabilities sorted by name.
func (g Grants) List() []Capability {
	out := make([]Capability, 0, len(g.caps))
	for c := range g.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set as a comma-separated list.
func (g Grants) String() string {
	caps := g.List()
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// =============================================================================
// ROLE GRANT TABLE
// =============================================================================

// roleGrants is indexed by Role-1. Its length is tied to roleCount so that a
// role added without a row fails to compile.
var roleGrants = [roleCount][]Capability{
	SensorViewer - 1:       {},
	MaintenanceManager - 1: {CapMaintenance},
	RevenueAnalyst - 1:     {CapRevenue},
	PlantDirector - 1:      {CapMaintenance, CapRevenue},
}

// GrantsFor returns the capabilities held by a valid role. Unknown roles
// hold nothing; use Resolve when the role comes from untrusted input.
func GrantsFor(role Role) Grants {
	if !role.Valid() {
		return NewGrants()
	}
	return NewGrants(roleGrants[role-1]...)
}

// Resolve returns the grants for role or ErrUnknownRole.
func Resolve(role Role) (Grants, error) {
	if !role.Valid() {
		return Grants{}, fmt.Errorf("%w: %d", ErrUnknownRole, int(role))
	}
	return GrantsFor(role), nil
}
