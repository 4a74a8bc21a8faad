// Package services – ContextExtractor
//
// The second pipeline stage: pulls action-specific parameters out of the raw
// text, conditioned on the classified intent. Missing or unparsable fields
// default to "no change requested": the stage deliberately favors inaction
// over an incorrect device mutation, so a volume request with no readable
// amount becomes a no-op downstream rather than a guessed magnitude.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-support-backend/internal/permissions"
)

// StageExtraction names the extraction stage in gateway telemetry.
const StageExtraction = "context_extraction"

// Volume directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionSet  = "set"
)

// Song commands.
const (
	CommandPlay  = "play"
	CommandPause = "pause"
	CommandSkip  = "skip"
)

// ExtractedContext is the variant result of the extraction stage, keyed by
// the primary action. Only the fields for that action are populated:
// PowerState for device_power, Direction/Amount for volume_control, Command
// for song_changes, and nothing for device_status. The zero value means "no
// change requested".
type ExtractedContext struct {
	PowerState string // "on" | "off" | ""
	Direction  string // "up" | "down" | "set" | ""
	Amount     *int
	Command    string // "play" | "pause" | "skip" | ""
}

// ContextExtractor runs the extraction stage against the Gateway.
type ContextExtractor struct {
	Gateway Gateway
}

// extractPrompts holds the action-specific system prompts. device_status has
// no parameters and is never sent to the model.
var extractPrompts = map[permissions.Action]string{
	permissions.ActionDevicePower: `You extract parameters from smart-home power requests.
Respond with strict JSON only, no prose, no code fences:
{"power_state": "on"|"off"|null}
Use null when the desired state is not stated.`,

	permissions.ActionVolumeControl: `You extract parameters from smart-home volume requests.
Respond with strict JSON only, no prose, no code fences:
{"direction": "up"|"down"|"set"|null, "amount": integer|null}
amount is 0-100. Use null for anything not stated; never invent a number.`,

	permissions.ActionSongChanges: `You extract parameters from smart-home music requests.
Respond with strict JSON only, no prose, no code fences:
{"command": "play"|"pause"|"skip"|null}
Use null when no command is stated.`,
}

// extractionWire mirrors the JSON contract with the model. One struct covers
// all variants; irrelevant fields simply stay nil.
type extractionWire struct {
	PowerState *string `json:"power_state"`
	Direction  *string `json:"direction"`
	Amount     *int    `json:"amount"`
	Command    *string `json:"command"`
}

// Extract pulls the parameters for action out of the raw text. It never
// fails the request: every gateway or parse failure degrades to the zero
// "no change requested" context, which the executor reports as a no-op.
func (ce *ContextExtractor) Extract(ctx context.Context, text string, action permissions.Action) (ExtractedContext, error) {
	prompt, ok := extractPrompts[action]
	if !ok {
		// device_status carries no parameters.
		return ExtractedContext{}, nil
	}

	comp, err := ce.Gateway.Call(ctx, StageExtraction, prompt, text)
	if err != nil {
		return ExtractedContext{}, nil
	}

	var wire extractionWire
	if err := json.Unmarshal([]byte(stripCodeFence(comp.Text)), &wire); err != nil {
		return ExtractedContext{}, nil
	}

	var out ExtractedContext
	switch action {
	case permissions.ActionDevicePower:
		if wire.PowerState != nil {
			switch *wire.PowerState {
			case "on", "off":
				out.PowerState = *wire.PowerState
			}
		}
	case permissions.ActionVolumeControl:
		if wire.Direction != nil {
			switch *wire.Direction {
			case DirectionUp, DirectionDown, DirectionSet:
				out.Direction = *wire.Direction
			}
		}
		if wire.Amount != nil && *wire.Amount >= 0 && *wire.Amount <= 100 {
			v := *wire.Amount
			out.Amount = &v
		}
		// A direction with no amount (or the reverse) is not actionable;
		// keep whichever halves parsed and let the executor no-op.
	case permissions.ActionSongChanges:
		if wire.Command != nil {
			switch *wire.Command {
			case CommandPlay, CommandPause, CommandSkip:
				out.Command = *wire.Command
			}
		}
	}
	return out, nil
}

// String renders the context for logging and response prompts.
func (e ExtractedContext) String() string {
	switch {
	case e.PowerState != "":
		return "power " + e.PowerState
	case e.Direction != "":
		if e.Amount != nil {
			return fmt.Sprintf("volume %s %d", e.Direction, *e.Amount)
		}
		return "volume " + e.Direction
	case e.Command != "":
		return "song " + e.Command
	}
	return "no change requested"
}
