// Package services – ActionExecutor
//
// Applies an allowed action to the customer's device through the customer
// store. The target is the customer's single registered device: the data
// model constrains each customer to one device, so this is not a free choice
// among many. Store write failures (stale rows, conflicts) surface as an
// execution failure to the processor, which downgrades the outcome instead
// of aborting: the customer gets an honest apology, never a false success.
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/permissions"
	"github.com/tbourn/go-support-backend/internal/repo"
)

// ErrActionExecutionFailed marks a store-level write failure during action
// execution. Recovered by the processor; never user-fatal.
var ErrActionExecutionFailed = errors.New("action execution failed")

// No-op and failure reasons reported to the response generator.
const (
	ReasonNoDevice      = "no_registered_device"
	ReasonNoChange      = "no_change_requested"
	ReasonEmptyPlaylist = "empty_playlist"
	ReasonWriteConflict = "device_write_conflict"
	ReasonNotEntitled   = "action_not_entitled"
)

// ExecutionReport describes what the executor did (or declined to do).
type ExecutionReport struct {
	// Executed is true when the action ran, including read-only status.
	Executed bool
	// NoOp is true when the action ran but changed nothing by design
	// (empty playlist, no parameters extracted). Reason says why.
	NoOp   bool
	Reason string
	// Device is the post-execution device snapshot for the responder.
	Device *domain.Device
}

// ActionExecutor mutates device state through the customer store.
type ActionExecutor struct {
	DB *gorm.DB
}

// Execute applies action with the extracted parameters to the customer's
// registered device. The policy is re-checked here so that fields outside a
// tier's capability set are never mutated even when a legacy row carries
// them; the permission guard has already produced the user-facing decision.
//
// A non-nil error is always ErrActionExecutionFailed (wrapped); the report's
// Reason still describes the failure for the response generator.
func (ax *ActionExecutor) Execute(ctx context.Context, customer *domain.Customer, policy permissions.Policy, action permissions.Action, ec ExtractedContext) (ExecutionReport, error) {
	if !policy.Allows(action) {
		return ExecutionReport{Reason: ReasonNotEntitled},
			fmt.Errorf("%w: %s not in %s entitlement", ErrActionExecutionFailed, action, policy.Tier)
	}
	if len(customer.Devices) == 0 {
		return ExecutionReport{Reason: ReasonNoDevice},
			fmt.Errorf("%w: customer %s has no registered device", ErrActionExecutionFailed, customer.ID)
	}
	device := &customer.Devices[0]

	switch action {
	case permissions.ActionDeviceStatus:
		// Read-only by definition.
		return ExecutionReport{Executed: true, Device: device}, nil

	case permissions.ActionDevicePower:
		return ax.setPower(ctx, customer.ID, device, ec)

	case permissions.ActionVolumeControl:
		return ax.adjustVolume(ctx, customer.ID, device, ec)

	case permissions.ActionSongChanges:
		return ax.changeSong(ctx, customer.ID, device, ec)
	}

	return ExecutionReport{Reason: ReasonNotEntitled},
		fmt.Errorf("%w: unknown action %q", ErrActionExecutionFailed, action)
}

func (ax *ActionExecutor) setPower(ctx context.Context, customerID string, device *domain.Device, ec ExtractedContext) (ExecutionReport, error) {
	if ec.PowerState == "" {
		return ExecutionReport{Executed: true, NoOp: true, Reason: ReasonNoChange, Device: device}, nil
	}
	if err := ax.write(ctx, customerID, device.ID, map[string]any{"power_state": ec.PowerState}); err != nil {
		return ExecutionReport{Reason: ReasonWriteConflict, Device: device}, err
	}
	device.PowerState = ec.PowerState
	return ExecutionReport{Executed: true, Device: device}, nil
}

func (ax *ActionExecutor) adjustVolume(ctx context.Context, customerID string, device *domain.Device, ec ExtractedContext) (ExecutionReport, error) {
	if ec.Amount == nil || ec.Direction == "" {
		return ExecutionReport{Executed: true, NoOp: true, Reason: ReasonNoChange, Device: device}, nil
	}

	current := 0
	if device.Volume != nil {
		current = *device.Volume
	}
	next := current
	switch ec.Direction {
	case DirectionSet:
		next = *ec.Amount
	case DirectionUp:
		next = current + *ec.Amount
	case DirectionDown:
		next = current - *ec.Amount
	}
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}

	if err := ax.write(ctx, customerID, device.ID, map[string]any{"volume": next}); err != nil {
		return ExecutionReport{Reason: ReasonWriteConflict, Device: device}, err
	}
	device.Volume = &next
	return ExecutionReport{Executed: true, Device: device}, nil
}

func (ax *ActionExecutor) changeSong(ctx context.Context, customerID string, device *domain.Device, ec ExtractedContext) (ExecutionReport, error) {
	if ec.Command == "" {
		return ExecutionReport{Executed: true, NoOp: true, Reason: ReasonNoChange, Device: device}, nil
	}
	if len(device.Playlist) == 0 {
		// Reported as a no-op, not an error: there is nothing to play or skip.
		return ExecutionReport{Executed: true, NoOp: true, Reason: ReasonEmptyPlaylist, Device: device}, nil
	}

	next := ""
	switch ec.Command {
	case CommandPlay:
		if device.CurrentSong != nil && *device.CurrentSong != "" {
			// Resuming the current song changes nothing persistent.
			return ExecutionReport{Executed: true, Device: device}, nil
		}
		next = device.Playlist[0]
	case CommandPause:
		// Pause acknowledges without a state change.
		return ExecutionReport{Executed: true, Device: device}, nil
	case CommandSkip:
		idx := -1
		if device.CurrentSong != nil {
			for i, s := range device.Playlist {
				if s == *device.CurrentSong {
					idx = i
					break
				}
			}
		}
		next = device.Playlist[(idx+1)%len(device.Playlist)] // wraps past the end
	}

	if err := ax.write(ctx, customerID, device.ID, map[string]any{"current_song": next}); err != nil {
		return ExecutionReport{Reason: ReasonWriteConflict, Device: device}, err
	}
	device.CurrentSong = &next
	return ExecutionReport{Executed: true, Device: device}, nil
}

// write applies a partial device update and maps store failures onto
// ErrActionExecutionFailed. Last writer wins on concurrent updates; the
// store's per-row write is the only synchronization point.
func (ax *ActionExecutor) write(ctx context.Context, customerID, deviceID string, changes map[string]any) error {
	if err := repo.UpdateDeviceState(ctx, ax.DB, customerID, deviceID, changes); err != nil {
		return fmt.Errorf("%w: %v", ErrActionExecutionFailed, err)
	}
	return nil
}
