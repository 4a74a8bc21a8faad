// Package services – ResponseGenerator
//
// The final pipeline stage: renders a natural-language reply from the action
// outcome, the customer's name and tier, and an abbreviated device snapshot.
// The generator can never leave the customer without an answer: when the
// gateway fails after its retry budget, a fixed templated message chosen by
// outcome kind is returned instead.
package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/permissions"
)

// StageGeneration names the generation stage in gateway telemetry.
const StageGeneration = "response_generation"

// OutcomeKind categorizes how the pipeline resolved a request.
type OutcomeKind string

const (
	// OutcomeExecuted: the action ran against the device.
	OutcomeExecuted OutcomeKind = "executed"
	// OutcomeDenied: the tier's entitlement did not cover the request.
	OutcomeDenied OutcomeKind = "denied"
	// OutcomeNotExecuted: nothing ran. Covers out-of-scope/ambiguous requests,
	// executor no-ops, and recovered execution failures.
	OutcomeNotExecuted OutcomeKind = "not_executed"
)

// Outcome is what the responder (and the persisted bot message metadata)
// sees of the pipeline's resolution.
type Outcome struct {
	Kind OutcomeKind
	// Reason is set for OutcomeNotExecuted (e.g. "empty_playlist",
	// "out_of_scope_or_ambiguous", "device_write_conflict").
	Reason string
	// Missing and SuggestedTier are set for OutcomeDenied. SuggestedOK is
	// false when no tier covers the requirement.
	Missing       []permissions.Action
	SuggestedTier permissions.Tier
	SuggestedOK   bool
}

const generateSystemPrompt = `You are a friendly smart-home customer support assistant.
Write a single short reply to the customer based on the facts given.
Rules:
- Address the customer by name.
- executed: confirm what was done; do not mention plans or upgrades.
- denied: apologize, name the missing capability, and suggest upgrading to the given tier. Do not pretend anything was done.
- not executed: apologize honestly and say nothing was changed; if a reason is given, explain it plainly.
Never invent device state. Reply with plain text only.`

// ResponseGenerator renders the reply for a processed request.
type ResponseGenerator struct {
	Gateway Gateway
}

// Reply produces the bot's natural-language answer. It never returns an
// error: when the gateway fails after retries the canned template for the
// outcome kind is used, because total silence is never acceptable.
func (rg *ResponseGenerator) Reply(ctx context.Context, requestText string, customer *domain.Customer, action permissions.Action, outcome Outcome, device *domain.Device) string {
	comp, err := rg.Gateway.Call(ctx, StageGeneration, generateSystemPrompt,
		rg.describe(requestText, customer, action, outcome, device))
	if err != nil || strings.TrimSpace(comp.Text) == "" {
		return rg.fallback(customer, outcome)
	}
	return strings.TrimSpace(comp.Text)
}

// describe assembles the user-content block for the generation prompt.
func (rg *ResponseGenerator) describe(requestText string, customer *domain.Customer, action permissions.Action, outcome Outcome, device *domain.Device) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer: %s (tier: %s)\n", customer.Name, customer.ServiceTier)
	fmt.Fprintf(&b, "Request: %s\n", requestText)
	if action != "" {
		fmt.Fprintf(&b, "Classified action: %s\n", actionLabel(action))
	}

	switch outcome.Kind {
	case OutcomeExecuted:
		b.WriteString("Outcome: executed\n")
	case OutcomeDenied:
		labels := make([]string, len(outcome.Missing))
		for i, a := range outcome.Missing {
			labels[i] = actionLabel(a)
		}
		fmt.Fprintf(&b, "Outcome: denied, missing capabilities: %s\n", strings.Join(labels, ", "))
		if outcome.SuggestedOK {
			fmt.Fprintf(&b, "Minimum tier that covers the request: %s\n", outcome.SuggestedTier)
		} else {
			b.WriteString("No tier covers the request.\n")
		}
	case OutcomeNotExecuted:
		b.WriteString("Outcome: not executed\n")
		if outcome.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", strings.ReplaceAll(outcome.Reason, "_", " "))
		}
	}

	if device != nil {
		fmt.Fprintf(&b, "Device: %s in %s, power %s", device.Type, device.Location, device.PowerState)
		if device.Volume != nil {
			fmt.Fprintf(&b, ", volume %d", *device.Volume)
		}
		if device.CurrentSong != nil && *device.CurrentSong != "" {
			fmt.Fprintf(&b, ", playing %q", *device.CurrentSong)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// fallback returns the fixed templated reply for an outcome kind.
func (rg *ResponseGenerator) fallback(customer *domain.Customer, outcome Outcome) string {
	switch outcome.Kind {
	case OutcomeExecuted:
		return fmt.Sprintf("All done, %s! Your request has been taken care of.", customer.Name)
	case OutcomeDenied:
		if outcome.SuggestedOK {
			return fmt.Sprintf("Sorry %s, your current plan doesn't include that capability. Upgrading to the %s plan would unlock it.",
				customer.Name, outcome.SuggestedTier)
		}
		return fmt.Sprintf("Sorry %s, that isn't available on any of our current plans.", customer.Name)
	default:
		return fmt.Sprintf("Sorry %s, I wasn't able to complete that request, and nothing on your device was changed.", customer.Name)
	}
}

// titleCaser renders action identifiers as human-readable labels.
var titleCaser = cases.Title(language.English)

// actionLabel converts "volume_control" into "Volume Control".
func actionLabel(a permissions.Action) string {
	return titleCaser.String(strings.ReplaceAll(string(a), "_", " "))
}
