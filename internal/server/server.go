// Package server exposes the motion service over HTTP (REST, SSE and
// WebSocket) and gRPC.
package server

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/auth"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/motion"
	"github.com/alfredjeanlab/homewatch/internal/presence"
)

// WatcherStatus is the read-only view of the motion watcher that handlers
// need. *watcher.Watcher implements it.
type WatcherStatus interface {
	Health() model.WatcherHealth
	LatestFrame() []byte
}

// Authenticator resolves a bearer token to a username.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Options configures a Server.
type Options struct {
	Motion   *motion.Service
	Auth     *auth.Service
	Watcher  WatcherStatus // nil when the camera is disabled
	Presence *presence.Tracker

	Origins          []string // allowed CORS origins; "*" allows any
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Server holds the handlers shared by every transport.
type Server struct {
	motion   *motion.Service
	auth     *auth.Service
	watcher  WatcherStatus
	Presence *presence.Tracker

	origins          []string
	subscriberBuffer int
	logger           *slog.Logger
}

// New returns a server over the given services.
func New(opts Options) *Server {
	if opts.Presence == nil {
		opts.Presence = presence.New()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		motion:           opts.Motion,
		auth:             opts.Auth,
		watcher:          opts.Watcher,
		Presence:         opts.Presence,
		origins:          opts.Origins,
		subscriberBuffer: opts.SubscriberBuffer,
		logger:           opts.Logger,
	}
}

// WatcherHealth returns the watcher's health, or a disabled placeholder
// when no camera is configured.
func (s *Server) WatcherHealth() model.WatcherHealth {
	if s.watcher == nil {
		return model.WatcherHealth{State: model.WatcherDisabled}
	}
	return s.watcher.Health()
}

// health builds the body of GET /api/health.
func (s *Server) health() api.HealthResponse {
	wh := s.WatcherHealth()
	status := api.StatusOK
	if wh.Degraded() {
		status = api.StatusDegraded
	}
	return api.HealthResponse{
		Status:      status,
		Watcher:     wh,
		Subscribers: s.motion.Subscribers(),
	}
}

type userKey struct{}

// withUser stores the authenticated username in ctx.
func withUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey{}, username)
}

// UserFromContext returns the authenticated username, if any.
func UserFromContext(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}
