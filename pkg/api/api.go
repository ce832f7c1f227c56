// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves door status and control over HTTP and pushes door
// changes to WebSocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gmux "github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
)

// AccessSourceHeader must name the caller of the control endpoint
const AccessSourceHeader = "X-Access-Source"

var allowedSources = map[string]bool{"api": true, "webui": true}

const (
	get  = "GET"
	post = "POST"
)

// Controller is the part of the engine the API needs
type Controller interface {
	Snapshot() door.Snapshot
	Submit(ctx context.Context, i door.Intent) (engine.Result, error)
	Subscribe() *door.Cursor
	Unsubscribe(c *door.Cursor)
	StatsSnapshot() engine.StatsSnapshot
}

// DoorJSON is the door block of every response
type DoorJSON struct {
	PositionCurrent int    `json:"position_current"`
	PositionTarget  int    `json:"position_target"`
	State           string `json:"state"`
	Moving          bool   `json:"moving"`
	Light           bool   `json:"light"`
}

// StatusJSON is the /api/status response
type StatusJSON struct {
	Status  string   `json:"status"`
	Version string   `json:"version_fw"`
	Door    DoorJSON `json:"door"`
}

// DiagnoseJSON is the /api/diagnose response
type DiagnoseJSON struct {
	Door     DoorJSON             `json:"door"`
	Trusted  bool                 `json:"trusted"`
	Revision uint64               `json:"revision"`
	Updated  time.Time            `json:"updated"`
	Stats    engine.StatsSnapshot `json:"stats"`
}

type reply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewDoorJSON converts a snapshot for the wire
func NewDoorJSON(s door.Snapshot) DoorJSON {
	return DoorJSON{
		PositionCurrent: s.CurrentPercent(),
		PositionTarget:  s.TargetPercent(),
		State:           s.Label,
		Moving:          s.Moving(),
		Light:           s.Light,
	}
}

// Server is the HTTP front end
type Server struct {
	ctrl     Controller
	log      *zap.SugaredLogger
	access   *zap.SugaredLogger
	version  string
	router   *gmux.Router
	upgrader websocket.Upgrader

	// SubmitTimeout bounds how long a control request waits for its result
	SubmitTimeout time.Duration
	// PingInterval is the WebSocket keepalive period
	PingInterval time.Duration
}

// NewServer creates the API server
func NewServer(ctrl Controller, version string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		ctrl:    ctrl,
		log:     log,
		access:  log.Named("access"),
		version: version,
		router:  gmux.NewRouter().StrictSlash(true),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		SubmitTimeout: 10 * time.Second,
		PingInterval:  30 * time.Second,
	}

	s.router.Handle("/api/status", http.HandlerFunc(s.statusHandler)).Methods(get)
	s.router.Handle("/api/diagnose", http.HandlerFunc(s.diagnoseHandler)).Methods(get)
	s.router.Handle("/api/control", requireSource(http.HandlerFunc(s.controlHandler))).Methods(post)
	s.router.Handle("/api/events", http.HandlerFunc(s.eventsHandler)).Methods(get)
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requireSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowedSources[strings.ToLower(r.Header.Get(AccessSourceHeader))] {
			writeJSON(w, http.StatusUnauthorized, reply{Status: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusJSON{
		Status:  "ok",
		Version: s.version,
		Door:    NewDoorJSON(s.ctrl.Snapshot()),
	})
}

func (s *Server) diagnoseHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, DiagnoseJSON{
		Door:     NewDoorJSON(snap),
		Trusted:  snap.Trusted,
		Revision: snap.Revision,
		Updated:  snap.Timestamp,
		Stats:    s.ctrl.StatsSnapshot(),
	})
}

// ParseControl turns control form values into an intent
func ParseControl(action, state, position string) (door.Intent, error) {
	switch strings.ToLower(action) {
	case "open":
		return door.OpenDoor(), nil
	case "close":
		return door.CloseDoor(), nil
	case "stop":
		return door.StopDoor(), nil
	case "half":
		return door.HalfOpenDoor(), nil
	case "vent":
		return door.VentDoor(), nil
	case "toggle":
		return door.ToggleDoor(), nil
	case "light":
		switch strings.ToLower(state) {
		case "":
			return door.ToggleLight(), nil
		case "on", "1", "true":
			return door.SetLight(true), nil
		case "off", "0", "false":
			return door.SetLight(false), nil
		}
		return door.Intent{}, fmt.Errorf("%w: light state %q", door.ErrInvalidIntent, state)
	case "position":
		pct, err := strconv.Atoi(position)
		if err != nil {
			return door.Intent{}, fmt.Errorf("%w: position %q", door.ErrInvalidIntent, position)
		}
		i := door.SetPosition(pct)
		return i, i.Validate()
	}
	return door.Intent{}, fmt.Errorf("%w: unknown action %q", door.ErrInvalidIntent, action)
}

func (s *Server) controlHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, reply{Status: "invalid", Error: err.Error()})
		return
	}

	intent, err := ParseControl(r.FormValue("action"), r.FormValue("state"), r.FormValue("position"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply{Status: "invalid", Error: err.Error()})
		return
	}

	source := strings.ToLower(r.Header.Get(AccessSourceHeader))
	s.access.Infow("Control request", "action", intent.String(), "source", source, "remote", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), s.SubmitTimeout)
	defer cancel()

	_, err = s.ctrl.Submit(ctx, intent)
	code, status := StatusFor(err)
	rep := reply{Status: status}
	if err != nil {
		rep.Error = err.Error()
	}
	writeJSON(w, code, rep)
}

// StatusFor maps a submit error onto an HTTP status and reply status
func StatusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, door.ErrInvalidIntent):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, engine.ErrUntrusted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, engine.ErrBusBusy), errors.Is(err, engine.ErrQueueFull):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, engine.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "error"
	}
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("Upgrading websocket connection", "error", err)
		return
	}
	defer conn.Close()

	cursor := s.ctrl.Subscribe()
	defer s.ctrl.Unsubscribe(cursor)

	// The reader only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(NewDoorJSON(s.ctrl.Snapshot())); err != nil {
		s.log.Debugw("Writing websocket message", "error", err)
		return
	}

	ping := time.NewTicker(s.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-cursor.C():
			snap, changed := cursor.PollChanged()
			if !changed {
				continue
			}
			if err := conn.WriteJSON(NewDoorJSON(snap)); err != nil {
				s.log.Debugw("Writing websocket message", "error", err)
				return
			}
			cursor.Acknowledge()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
