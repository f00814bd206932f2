// Package services defines the business logic for sessions, messages, and
// feedback. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrSessionNotFound indicates that the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates that the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyMessage is returned when a submission carries neither text nor
	// attachments. Nothing is written to the store in this case.
	ErrEmptyMessage = errors.New("message requires text or attachments")

	// ErrTooLong is returned when a message body exceeds the configured
	// maximum length limit.
	ErrTooLong = errors.New("message too long")

	// ErrInvalidFeedback is returned when a feedback payload is malformed
	// (missing message id, or a target that is not a bot message).
	ErrInvalidFeedback = errors.New("invalid feedback target")
)
