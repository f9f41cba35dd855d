// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/balance-foundation/balance/lib/api"
	"github.com/balance-foundation/balance/lib/session"
)

// maxBodySize caps HTTP request bodies. The largest legitimate body is
// a session start with an intention string.
const maxBodySize = 64 * 1024

// routes builds the HTTP handler for the daemon's API.
func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("POST /sessions/start", d.handleStart)
	mux.HandleFunc("POST /sessions/abandon", d.handleAbandon)
	mux.HandleFunc("POST /sessions/timer-complete", d.handleTimerComplete)
	mux.HandleFunc("POST /sessions/end", d.handleReview)
	mux.HandleFunc("GET /sessions/rabbit-hole-check", d.handleRabbitHoleCheck)
	mux.HandleFunc("GET /sessions/today", d.handleToday)
	mux.HandleFunc("GET /priorities", d.handlePriorities)
	mux.HandleFunc("GET /settings", d.handleSettings)
	mux.HandleFunc("GET /auth-check", d.handleAuthCheck)
	mux.HandleFunc("GET /healthz", d.handleHealthz)

	return mux
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := d.machine.Status(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (d *daemon) handleStart(w http.ResponseWriter, r *http.Request) {
	var request api.StartRequest
	if !d.decodeBody(w, r, &request) {
		return
	}

	started, err := d.machine.StartSession(r.Context(), session.StartRequest{
		Type:       session.Type(request.Type),
		Intention:  request.Intention,
		PriorityID: request.PriorityID,
	})
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusCreated, api.SessionResponse{Session: started})
}

func (d *daemon) handleAbandon(w http.ResponseWriter, r *http.Request) {
	abandoned, err := d.machine.AbandonSession(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.SessionResponse{Session: abandoned})
}

// handleTimerComplete is the client-side timer nudge. The server's
// clock decides whether anything actually expires; the response is the
// post-resolution state either way.
func (d *daemon) handleTimerComplete(w http.ResponseWriter, r *http.Request) {
	snap, err := d.machine.TimerComplete(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (d *daemon) handleReview(w http.ResponseWriter, r *http.Request) {
	var request api.ReviewRequest
	if !d.decodeBody(w, r, &request) {
		return
	}

	reviewed, err := d.machine.SubmitReview(r.Context(), request.Review())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.SessionResponse{Session: reviewed})
}

func (d *daemon) handleRabbitHoleCheck(w http.ResponseWriter, r *http.Request) {
	status, err := d.machine.RabbitHoleCheck(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, api.RabbitHoleResponse{
		ShouldAlert:      status.ShouldAlert,
		ConsecutiveCount: status.ConsecutiveCount,
	})
}

func (d *daemon) handleToday(w http.ResponseWriter, r *http.Request) {
	today, err := d.todayResponse(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, today)
}

func (d *daemon) handlePriorities(w http.ResponseWriter, r *http.Request) {
	priorities, err := d.store.ListPriorities(r.Context())
	if err != nil {
		d.writeError(w, err)
		return
	}
	if priorities == nil {
		priorities = []session.Priority{}
	}
	d.writeJSON(w, http.StatusOK, api.PrioritiesResponse{Priorities: priorities})
}

func (d *daemon) handleSettings(w http.ResponseWriter, r *http.Request) {
	timer := d.cfg.Timer
	d.writeJSON(w, http.StatusOK, api.SettingsResponse{
		SessionDurationSeconds: int64(timer.SessionDuration.Std() / time.Second),
		ShortBreakSeconds:      int64(timer.ShortBreak.Std() / time.Second),
		LongBreakSeconds:       int64(timer.LongBreak.Std() / time.Second),
		LongBreakEvery:         timer.LongBreakEvery,
		DailyCap:               timer.DailyCap,
		RabbitHoleThreshold:    timer.RabbitHoleThreshold,
	})
}

// handleAuthCheck is the reverse proxy's per-request gate. Allow is
// 204; deny is a 302 to the configured redirect (or 403 when none is
// configured). The handler never errors: a storage fault resolves to
// the configured fail policy inside CheckAccess.
func (d *daemon) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	decision := d.machine.CheckAccess(r.Context())
	if decision.Allow {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if d.cfg.Gate.RedirectURL != "" {
		http.Redirect(w, r, d.cfg.Gate.RedirectURL, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

func (d *daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// todayResponse assembles the current day's accounting. Shared by the
// HTTP handler and the socket action.
func (d *daemon) todayResponse(ctx context.Context) (api.TodayResponse, error) {
	now := d.clock.Now().UTC()
	day := session.DayKey(now)

	byType, err := d.store.CompletedByType(ctx, day)
	if err != nil {
		return api.TodayResponse{}, err
	}
	completed := 0
	completedByType := make(map[string]int, len(byType))
	for sessionType, count := range byType {
		completed += count
		completedByType[string(sessionType)] = count
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sessions, err := d.store.ListDay(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return api.TodayResponse{}, err
	}
	if sessions == nil {
		sessions = []session.Session{}
	}

	capRemaining := -1
	if limit := d.cfg.Timer.DailyCap; limit > 0 {
		capRemaining = limit - completed
		if capRemaining < 0 {
			capRemaining = 0
		}
	}

	return api.TodayResponse{
		Day:             day,
		Completed:       completed,
		CompletedByType: completedByType,
		CapRemaining:    capRemaining,
		Sessions:        sessions,
	}, nil
}

// decodeBody reads and decodes a JSON request body, writing a 400 on
// failure. Returns false when the response has already been written.
func (d *daemon) decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		d.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "invalid_body",
		})
		return false
	}
	// Reject trailing garbage after the JSON value.
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		d.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error: "invalid request body: trailing data",
			Code:  "invalid_body",
		})
		return false
	}
	return true
}

func (d *daemon) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		d.logger.Debug("failed to write response", "error", err)
	}
}

// writeError maps a taxonomy error to its HTTP status and JSON body.
func (d *daemon) writeError(w http.ResponseWriter, err error) {
	code := session.ErrorCode(err)
	status := httpStatus(code)
	if status == http.StatusInternalServerError {
		d.logger.Error("request failed", "error", err)
	}
	d.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: code})
}

// httpStatus maps machine-readable error codes to HTTP statuses.
// Transition and cap violations are conflicts with current state, not
// malformed requests. "invalid_body" is the transport-layer code for
// bodies that never decoded; "missing_field" is the machine's verdict
// on a decoded request.
func httpStatus(code string) int {
	switch code {
	case "invalid_transition", "conflict", "cap_exceeded":
		return http.StatusConflict
	case "missing_field", "invalid_body":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
