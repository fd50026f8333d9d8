package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/auth"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/motion"
	"github.com/alfredjeanlab/homewatch/internal/snapshot"
	"github.com/alfredjeanlab/homewatch/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body required")

// NewHTTPHandler returns an http.Handler with all routes registered. Every
// route except health and login requires a valid token.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("POST /api/profile", s.handleProfile)
	mux.HandleFunc("GET /api/motion-events", s.handleListEvents)
	mux.HandleFunc("POST /api/motion-events/simulate", s.handleSimulate)
	mux.HandleFunc("GET /api/latest-frame", s.handleLatestFrame)
	mux.HandleFunc("GET /api/event-snapshot/{id}", s.handleEventSnapshot)
	mux.HandleFunc("GET /api/snapshots/{key...}", s.handleSnapshot)
	mux.HandleFunc("GET /api/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /api/viewers", s.handleViewers)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return CORSMiddleware(s.origins, AuthMiddleware(s.authenticator(), mux))
}

// authenticator returns nil when no auth service is configured so that the
// middleware disables itself.
func (s *Server) authenticator() Authenticator {
	if s.auth == nil {
		return nil
	}
	return s.auth
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

// handleLogin handles POST /api/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tok, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login failed", "err", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, api.LoginResponse{
		Token:     tok.Token,
		TokenType: tok.TokenType,
		ExpiresIn: tok.ExpiresIn,
		Username:  tok.Username,
	})
}

// handleMe handles GET /api/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.MeResponse{Username: UserFromContext(r.Context())})
}

// handleProfile handles POST /api/profile.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req api.ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tok, err := s.auth.UpdateProfile(r.Context(), UserFromContext(r.Context()), auth.ProfileUpdate{
		CurrentPassword: req.CurrentPassword,
		NewUsername:     req.NewUsername,
		NewPassword:     req.NewPassword,
	})
	var inputErr *auth.InputError
	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Msg)
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	case err != nil:
		s.logger.Error("profile update failed", "err", err)
		writeError(w, http.StatusInternalServerError, "profile update failed")
		return
	}
	writeJSON(w, http.StatusOK, api.ProfileResponse{Token: tok.Token, Username: tok.Username})
}

// handleListEvents handles GET /api/motion-events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.EventsResponse{Events: s.motion.List(f)})
}

func parseEventFilter(r *http.Request) (model.EventFilter, error) {
	q := r.URL.Query()
	f := model.EventFilter{
		Source:   q.Get("source"),
		Severity: model.Severity(q.Get("severity")),
		Zone:     q.Get("zone"),
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		return f, errors.New("invalid severity")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	if v := q.Get("since_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, errors.New("invalid since_id")
		}
		f.SinceID = n
	}
	return f, nil
}

// handleSimulate handles POST /api/motion-events/simulate. The body is
// optional.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req api.SimulateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, err := s.motion.Simulate(r.Context(), motion.SimulateRequest{
		Source:   req.Source,
		Severity: req.Severity,
		Zone:     req.Zone,
		Message:  req.Message,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleLatestFrame handles GET /api/latest-frame.
func (s *Server) handleLatestFrame(w http.ResponseWriter, _ *http.Request) {
	var frame []byte
	if s.watcher != nil {
		frame = s.watcher.LatestFrame()
	}
	if len(frame) == 0 {
		writeError(w, http.StatusNotFound, "no frame captured yet")
		return
	}
	writeJPEG(w, frame)
}

// handleEventSnapshot handles GET /api/event-snapshot/{id}.
func (s *Server) handleEventSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	data, err := s.motion.Snapshot(r.Context(), id)
	if err != nil {
		s.writeSnapshotError(w, err)
		return
	}
	writeJPEG(w, data)
}

// handleSnapshot handles GET /api/snapshots/{key...}.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.motion.SnapshotByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		s.writeSnapshotError(w, err)
		return
	}
	writeJPEG(w, data)
}

func (s *Server) writeSnapshotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, snapshot.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid snapshot key")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, snapshot.ErrNotFound), errors.Is(err, motion.ErrNoSnapshot):
		writeError(w, http.StatusNotFound, "snapshot not found")
	default:
		s.logger.Error("read snapshot", "err", err)
		writeError(w, http.StatusInternalServerError, "read snapshot failed")
	}
}

// handleViewers handles GET /api/viewers.
func (s *Server) handleViewers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"viewers": s.Presence.Roster()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJPEG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
