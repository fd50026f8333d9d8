// Package api holds the wire types shared by the homewatch server and its
// clients: HTTP request and response bodies, WebSocket frames and the gRPC
// MotionService messages.
package api

import (
	"github.com/alfredjeanlab/homewatch/internal/model"
)

// HTTP bodies

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
	Username  string `json:"username"`
}

type ProfileRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewUsername     string `json:"newUsername,omitempty"`
	NewPassword     string `json:"newPassword,omitempty"`
}

type ProfileResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type MeResponse struct {
	Username string `json:"username"`
}

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

type HealthResponse struct {
	Status      string              `json:"status"`
	Watcher     model.WatcherHealth `json:"watcher"`
	Subscribers int                 `json:"subscribers"`
}

type EventsResponse struct {
	Events []*model.MotionEvent `json:"events"`
}

type SimulateRequest struct {
	Source   string         `json:"source,omitempty"`
	Severity model.Severity `json:"severity,omitempty"`
	Zone     string         `json:"zone,omitempty"`
	Message  string         `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// WebSocket frames

const (
	MessageInfo   = "info"
	MessageMotion = "motion_event"
)

// WSMessage is one frame on the /ws feed. Info frames carry Message, motion
// frames carry Payload.
type WSMessage struct {
	Type    string             `json:"type"`
	Message string             `json:"message,omitempty"`
	Payload *model.MotionEvent `json:"payload,omitempty"`
}

// SSE event name for motion events.
const SSEEventMotion = "motion_event"
