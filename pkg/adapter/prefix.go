// Package adapter defines the peer adapter contract (C9) and the
// helpers shared by every concrete adapter: prefixed-name mapping and
// async correlation records. Grounded on
// original_source/IoTHubProcessor.java's addDeviceIDPrefix/
// removeDeviceIDPrefix.
package adapter

import "strings"

// PrefixPolicy controls the per-peer prefixed-name view of a
// device_id (spec.md §3 "Peer-prefixed name").
type PrefixPolicy struct {
	Enabled   bool
	Prefix    string
	Separator string
}

// Prefixer maps device_id to/from its peer-prefixed name. The mapping
// is a pure function both ways: the shadow session table is keyed by
// the prefixed name, while the registry and orchestrator key by the
// bare device_id (spec.md §3).
type Prefixer struct {
	policy PrefixPolicy
}

// NewPrefixer builds a Prefixer for policy.
func NewPrefixer(policy PrefixPolicy) Prefixer {
	if policy.Separator == "" {
		policy.Separator = "-"
	}
	return Prefixer{policy: policy}
}

// AddPrefix maps a bare device_id to its peer-prefixed name. It is
// idempotent: AddPrefix(AddPrefix(d)) == AddPrefix(d) (spec.md §8).
func (p Prefixer) AddPrefix(deviceID string) string {
	if !p.policy.Enabled || p.policy.Prefix == "" {
		return deviceID
	}
	already := p.policy.Prefix + p.policy.Separator
	if strings.HasPrefix(deviceID, already) {
		return deviceID
	}
	return already + deviceID
}

// RemovePrefix is AddPrefix's inverse: RemovePrefix(AddPrefix(d)) == d.
func (p Prefixer) RemovePrefix(prefixedName string) string {
	if !p.policy.Enabled || p.policy.Prefix == "" {
		return prefixedName
	}
	already := p.policy.Prefix + p.policy.Separator
	return strings.TrimPrefix(prefixedName, already)
}
