// internal/model/signup.go
package model

import "github.com/google/uuid"

// SignUpRequest is the one-time registration payload. SignUpToken is
// generated on the device and lets the server detect a repeated sign-up for
// the same logical device, so no duplicate queue is created.
type SignUpRequest struct {
	SignUpToken uuid.UUID `json:"signup_token" validate:"required"`
	DeviceClass string    `json:"device_class" validate:"required"`
}

// SignUpToken pairs the client token with the server-issued queue identity.
type SignUpToken struct {
	SignUpToken uuid.UUID `json:"signup_token"`
	QueueID     uuid.UUID `json:"queue_id"`
	DeviceToken string    `json:"device_token"`
}
