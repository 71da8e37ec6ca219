package server

import (
	"net/http"
)

// EngineResponse acknowledges a start or stop command.
type EngineResponse struct {
	Status string `json:"status"`
}

// handleStart asks the engine to begin a run.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Start(r.Context()); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, EngineResponse{Status: "running"})
}

// handleStop asks the engine to wind down the current run.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Stop(r.Context()); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, EngineResponse{Status: "stopped"})
}

// handleState returns the current engine snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.control.State(r.Context())
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, snap)
}

// handleEvents upgrades to a WebSocket and joins the status hub.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// handleEventsStream serves the snapshot feed as Server-Sent Events. Each
// change arrives as a "state" event; the stream opens with the current state
// so consumers are never blank until the next change.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	snapshots, cancel := s.control.Subscribe()
	defer cancel()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if snap, err := s.control.State(r.Context()); err == nil {
		if err := sse.WriteEvent("state", snap); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				sse.WriteClosed("engine loop exited")
				return
			}
			if err := sse.WriteEvent("state", snap); err != nil {
				// Client went away.
				return
			}
		}
	}
}
