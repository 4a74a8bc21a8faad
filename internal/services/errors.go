// Package services implements the request-processing pipeline and the
// business logic around conversation history and feedback. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Pipeline errors.
var (
	// ErrCustomerNotFound indicates that the requesting customer id does not
	// resolve. This is fatal: there is nobody to address a reply to, and
	// nothing is persisted.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrPolicyNotFound indicates a customer tier with no configured policy.
	// A misconfiguration, surfaced as an internal error and never blamed on
	// the user.
	ErrPolicyNotFound = errors.New("tier policy not found")

	// ErrClassificationUnavailable is returned when the upstream model
	// service stays unreachable through the retry budget during intent
	// classification. The inbound message has already been persisted when
	// this is returned.
	ErrClassificationUnavailable = errors.New("intent classification unavailable")

	// ErrEmptyMessage is returned when a chat request contains an empty
	// message.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when a chat request exceeds the maximum
	// configured length limit.
	ErrMessageTooLong = errors.New("message too long")
)

// History errors.
var (
	// ErrConversationNotFound indicates that the requested conversation has
	// no messages and therefore does not exist; conversations only exist
	// through their message log.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Feedback errors.
var (
	// ErrInvalidFeedback is returned when a feedback value is outside the
	// allowed set (currently -1 or 1).
	ErrInvalidFeedback = errors.New("feedback value must be -1 or 1")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current customer.
	ErrMessageNotFound = errors.New("message not found")

	// ErrForbiddenFeedback is returned when a customer attempts to leave
	// feedback on a message they are not permitted to rate.
	ErrForbiddenFeedback = errors.New("cannot leave feedback on this message")

	// ErrDuplicateFeedback is returned when a customer attempts to leave
	// feedback on a message that they have already rated.
	ErrDuplicateFeedback = errors.New("feedback already exists")
)
