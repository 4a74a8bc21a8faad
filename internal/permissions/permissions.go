// Package permissions implements the service-tier permission model: the
// static tier policy table and the pure guard that compares a request's
// required actions against a tier's entitlement.
//
// The table is immutable at runtime. Entitlements are monotonically
// non-decreasing across basic, premium, and enterprise so that upgrading a
// tier never removes an ability.
package permissions

import "errors"

// Tier is a customer service tier.
type Tier string

// Tiers in upgrade order.
const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Action is a device action a chat request may require.
type Action string

// The four known action kinds.
const (
	ActionDeviceStatus  Action = "device_status"
	ActionDevicePower   Action = "device_power"
	ActionVolumeControl Action = "volume_control"
	ActionSongChanges   Action = "song_changes"
)

// ErrPolicyNotFound indicates a tier with no configured policy. This is a
// misconfiguration, not a user error.
var ErrPolicyNotFound = errors.New("policy not found")

// Policy describes what a service tier may do and how many devices it may
// register. Loaded once per request; never mutated.
type Policy struct {
	Tier           Tier
	AllowedActions []Action
	MaxDevices     int
}

// upgradeOrder lists tiers from lowest to highest entitlement.
var upgradeOrder = []Tier{TierBasic, TierPremium, TierEnterprise}

// policies is the static permission table.
var policies = map[Tier]Policy{
	TierBasic: {
		Tier:           TierBasic,
		AllowedActions: []Action{ActionDeviceStatus, ActionDevicePower},
		MaxDevices:     1,
	},
	TierPremium: {
		Tier:           TierPremium,
		AllowedActions: []Action{ActionDeviceStatus, ActionDevicePower, ActionVolumeControl},
		MaxDevices:     3,
	},
	TierEnterprise: {
		Tier:           TierEnterprise,
		AllowedActions: []Action{ActionDeviceStatus, ActionDevicePower, ActionVolumeControl, ActionSongChanges},
		MaxDevices:     5,
	},
}

// Tiers returns the tiers in upgrade order. The returned slice is a copy.
func Tiers() []Tier {
	out := make([]Tier, len(upgradeOrder))
	copy(out, upgradeOrder)
	return out
}

// PolicyFor returns the policy for a tier, or ErrPolicyNotFound for an
// unknown tier.
func PolicyFor(t Tier) (Policy, error) {
	p, ok := policies[t]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}
	return p, nil
}

// ParseAction maps a wire-format action string to an Action. The second
// return value is false for anything outside the four known kinds.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionDeviceStatus, ActionDevicePower, ActionVolumeControl, ActionSongChanges:
		return Action(s), true
	}
	return "", false
}

// Allows reports whether the policy entitles the given action.
func (p Policy) Allows(a Action) bool {
	for _, allowed := range p.AllowedActions {
		if allowed == a {
			return true
		}
	}
	return false
}

// Decision is the outcome of a permission check. When Allowed is false,
// Missing lists every required action absent from the tier's entitlement and
// SuggestedTier names the lowest tier whose entitlement covers the full
// requirement (SuggestedOK false when no tier qualifies).
type Decision struct {
	Allowed       bool
	Missing       []Action
	SuggestedTier Tier
	SuggestedOK   bool
}

// Check compares the required action set against a tier policy. A compound
// request (more than one required action) proceeds only when every action is
// entitled; a single missing action denies the whole request.
//
// Check is pure: no I/O, no mutation of its inputs.
func Check(required []Action, policy Policy) Decision {
	var missing []Action
	for _, a := range required {
		if !policy.Allows(a) {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return Decision{Allowed: true}
	}
	suggested, ok := SuggestTier(required)
	return Decision{
		Allowed:       false,
		Missing:       missing,
		SuggestedTier: suggested,
		SuggestedOK:   ok,
	}
}

// SuggestTier returns the lowest tier (in upgrade order) whose entitlement is
// a superset of required, or ok=false when no tier satisfies the set.
func SuggestTier(required []Action) (Tier, bool) {
	for _, t := range upgradeOrder {
		p := policies[t]
		covered := true
		for _, a := range required {
			if !p.Allows(a) {
				covered = false
				break
			}
		}
		if covered {
			return t, true
		}
	}
	return "", false
}
