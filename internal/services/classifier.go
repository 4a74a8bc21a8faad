// Package services – IntentClassifier
//
// The first pipeline stage: maps free text to a primary action plus the full
// set of candidate actions. The model is instructed to answer in strict JSON;
// anything that fails the validating parse is downgraded to an ambiguous
// degraded result rather than trusting the upstream shape; a best-effort
// "I didn't understand" reply beats a hard failure. Upstream unavailability
// after the gateway's retry budget is propagated; that path is fatal to the
// request and handled by the processor.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/permissions"
)

// StageClassification names the classification stage in gateway telemetry.
const StageClassification = "intent_classification"

// classifySystemPrompt instructs the model to emit strict JSON. The action
// vocabulary must match permissions exactly; anything else parses as null.
const classifySystemPrompt = `You classify smart-home customer support requests.
Respond with strict JSON only, no prose, no code fences, using exactly this shape:
{"primary_action": string|null, "all_actions": [string], "ambiguous": bool, "out_of_scope": bool}

primary_action is the dominant intent and must be one of:
"device_status", "device_power", "volume_control", "song_changes", or null when no intent fits.
all_actions lists every action the request implies, primary first.
Set ambiguous=true when the request is unclear. Set out_of_scope=true when the
request is unrelated to smart-home devices.`

// Classification is the transient result of the intent stage. It is not
// persisted verbatim; the processor copies what it needs onto the bot
// message record.
type Classification struct {
	// PrimaryAction is empty when the model returned null or the response
	// was degraded.
	PrimaryAction permissions.Action
	// AllActions is ordered, primary first. Empty for degraded results.
	AllActions []permissions.Action
	Ambiguous  bool
	OutOfScope bool
}

// Degraded reports whether this is the best-effort fallback result used when
// the upstream response could not be parsed.
func (c Classification) Degraded() bool {
	return c.Ambiguous && c.PrimaryAction == ""
}

// IntentClassifier runs the classification stage against the Gateway.
type IntentClassifier struct {
	Gateway Gateway
}

// classificationWire mirrors the JSON contract with the model.
type classificationWire struct {
	PrimaryAction *string  `json:"primary_action"`
	AllActions    []string `json:"all_actions"`
	Ambiguous     bool     `json:"ambiguous"`
	OutOfScope    bool     `json:"out_of_scope"`
}

// Classify maps raw user text to a Classification.
//
// Error contract: ErrUpstreamMalformed (and any shape mismatch after a
// successful call) is absorbed into the ambiguous degraded result.
// ErrUpstreamUnavailable and ErrUpstreamRateLimited are returned to the
// caller after the gateway's retry budget; that is the one classification
// path fatal to the request.
func (ic *IntentClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	degraded := Classification{Ambiguous: true}

	comp, err := ic.Gateway.Call(ctx, StageClassification, classifySystemPrompt, text)
	if err != nil {
		if errors.Is(err, llm.ErrUpstreamMalformed) {
			return degraded, nil
		}
		return Classification{}, err
	}

	var wire classificationWire
	if err := json.Unmarshal([]byte(stripCodeFence(comp.Text)), &wire); err != nil {
		return degraded, nil
	}

	out := Classification{
		Ambiguous:  wire.Ambiguous,
		OutOfScope: wire.OutOfScope,
	}
	if wire.PrimaryAction != nil {
		a, ok := permissions.ParseAction(*wire.PrimaryAction)
		if !ok {
			// Unknown vocabulary is a shape mismatch, not a new feature.
			return degraded, nil
		}
		out.PrimaryAction = a
	}
	for _, raw := range wire.AllActions {
		if a, ok := permissions.ParseAction(raw); ok {
			out.AllActions = append(out.AllActions, a)
		}
	}
	if len(out.AllActions) == 0 && out.PrimaryAction != "" {
		out.AllActions = []permissions.Action{out.PrimaryAction}
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown code fence when a model wraps
// its JSON despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
