// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/balance-foundation/balance/lib/api"
	"github.com/balance-foundation/balance/lib/clock"
	"github.com/balance-foundation/balance/lib/codec"
	"github.com/balance-foundation/balance/lib/config"
	"github.com/balance-foundation/balance/lib/session"
	"github.com/balance-foundation/balance/lib/sessionstore"
)

var daemonEpoch = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

type testDaemon struct {
	daemon   *daemon
	clock    *clock.FakeClock
	server   *httptest.Server
	priority session.Priority
}

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *testDaemon {
	t.Helper()

	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "balance.db")
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.DiscardHandler)
	store, err := sessionstore.Open(sessionstore.Config{Path: cfg.DatabasePath, Logger: logger})
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	priority, err := store.PutPriority(context.Background(), session.Priority{
		Name: "Thesis", Rank: 1, CreatedAt: daemonEpoch,
	})
	if err != nil {
		t.Fatalf("PutPriority: %v", err)
	}

	fake := clock.Fake(daemonEpoch)
	machine, err := session.NewMachine(context.Background(), session.MachineConfig{
		Store:        store,
		Clock:        fake,
		Rules:        timerRules(cfg.Timer),
		Logger:       logger,
		GateFailOpen: cfg.Gate.FailPolicy != "closed",
	})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}

	d := &daemon{cfg: cfg, machine: machine, store: store, clock: fake, logger: logger}
	server := httptest.NewServer(d.routes())
	t.Cleanup(server.Close)

	return &testDaemon{daemon: d, clock: fake, server: server, priority: priority}
}

// do runs one request and decodes the JSON response body into out (when
// out is non-nil), returning the status code.
func (td *testDaemon) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, td.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	response, err := td.server.Client().Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()

	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

func (td *testDaemon) status(t *testing.T) api.StatusResponse {
	t.Helper()
	var status api.StatusResponse
	if code := td.do(t, http.MethodGet, "/status", nil, &status); code != http.StatusOK {
		t.Fatalf("GET /status = %d", code)
	}
	return status
}

func TestStatusIdle(t *testing.T) {
	td := newTestDaemon(t, nil)

	status := td.status(t)
	if status.Mode != "idle" {
		t.Errorf("mode = %q, want idle", status.Mode)
	}
	if status.EndsAt != nil || status.Session != nil {
		t.Errorf("idle status carries timer fields: %+v", status)
	}
}

func TestSessionFlowOverHTTP(t *testing.T) {
	td := newTestDaemon(t, nil)

	var started api.SessionResponse
	code := td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{
		Type:       "expected",
		Intention:  "write the intro",
		PriorityID: td.priority.ID,
	}, &started)
	if code != http.StatusCreated {
		t.Fatalf("start = %d", code)
	}
	if started.Session.Type != session.Expected || started.Session.PriorityID != td.priority.ID {
		t.Errorf("started = %+v", started.Session)
	}

	status := td.status(t)
	if status.Mode != "session" {
		t.Fatalf("mode = %q, want session", status.Mode)
	}
	if status.EndsAt == nil || !status.EndsAt.Equal(daemonEpoch.Add(25*time.Minute)) {
		t.Errorf("EndsAt = %v", status.EndsAt)
	}

	// The timer elapses while nobody calls anything.
	td.clock.Advance(25 * time.Minute)
	status = td.status(t)
	if status.Mode != "break" {
		t.Fatalf("mode = %q, want break", status.Mode)
	}
	if !status.ReviewPending {
		t.Error("ReviewPending = false during post-session break")
	}

	// Review during the break.
	didTheThing := true
	var reviewed api.SessionResponse
	code = td.do(t, http.MethodPost, "/sessions/end", api.ReviewRequest{
		Distractions: "few",
		DidTheThing:  &didTheThing,
	}, &reviewed)
	if code != http.StatusOK {
		t.Fatalf("review = %d", code)
	}
	if !reviewed.Session.Reviewed || reviewed.Session.Distractions != session.DistractionsFew {
		t.Errorf("reviewed = %+v", reviewed.Session)
	}

	// Break runs out; back to idle.
	td.clock.Advance(5 * time.Minute)
	if status := td.status(t); status.Mode != "idle" {
		t.Errorf("mode = %q, want idle", status.Mode)
	}
}

func TestTimerCompleteNudge(t *testing.T) {
	td := newTestDaemon(t, nil)
	td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil)

	// Early nudge: server clock says the timer is still running.
	var status api.StatusResponse
	if code := td.do(t, http.MethodPost, "/sessions/timer-complete", nil, &status); code != http.StatusOK {
		t.Fatalf("timer-complete = %d", code)
	}
	if status.Mode != "session" {
		t.Errorf("early nudge mode = %q, want session", status.Mode)
	}

	td.clock.Advance(25 * time.Minute)
	if code := td.do(t, http.MethodPost, "/sessions/timer-complete", nil, &status); code != http.StatusOK {
		t.Fatalf("timer-complete = %d", code)
	}
	if status.Mode != "break" {
		t.Errorf("due nudge mode = %q, want break", status.Mode)
	}
}

func TestErrorMapping(t *testing.T) {
	td := newTestDaemon(t, nil)

	var errorBody api.ErrorResponse
	code := td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "sprint"}, &errorBody)
	if code != http.StatusBadRequest || errorBody.Code != "missing_field" {
		t.Errorf("bad type: status = %d code = %q", code, errorBody.Code)
	}

	code = td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{
		Type: "expected", PriorityID: 9999,
	}, &errorBody)
	if code != http.StatusNotFound || errorBody.Code != "not_found" {
		t.Errorf("unknown priority: status = %d code = %q", code, errorBody.Code)
	}

	code = td.do(t, http.MethodPost, "/sessions/abandon", nil, &errorBody)
	if code != http.StatusConflict || errorBody.Code != "invalid_transition" {
		t.Errorf("abandon while idle: status = %d code = %q", code, errorBody.Code)
	}

	td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil)
	code = td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, &errorBody)
	if code != http.StatusConflict || errorBody.Code != "conflict" {
		t.Errorf("double start: status = %d code = %q", code, errorBody.Code)
	}
}

func TestAuthCheckGate(t *testing.T) {
	td := newTestDaemon(t, nil)

	authCheck := func() int {
		t.Helper()
		request, err := http.NewRequest(http.MethodGet, td.server.URL+"/auth-check", nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		// Redirects must be observed, not followed.
		client := &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		response, err := client.Do(request)
		if err != nil {
			t.Fatalf("GET /auth-check: %v", err)
		}
		response.Body.Close()
		return response.StatusCode
	}

	if code := authCheck(); code != http.StatusNoContent {
		t.Errorf("idle gate = %d, want 204", code)
	}

	td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil)
	if code := authCheck(); code != http.StatusNoContent {
		t.Errorf("in-session gate = %d, want 204", code)
	}

	td.clock.Advance(25 * time.Minute)
	if code := authCheck(); code != http.StatusForbidden {
		t.Errorf("break gate = %d, want 403", code)
	}

	td.clock.Advance(5 * time.Minute)
	if code := authCheck(); code != http.StatusNoContent {
		t.Errorf("post-break gate = %d, want 204", code)
	}
}

func TestAuthCheckRedirect(t *testing.T) {
	td := newTestDaemon(t, func(cfg *config.Config) {
		cfg.Gate.RedirectURL = "http://localhost:8746/break"
	})

	td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil)
	td.clock.Advance(25 * time.Minute)

	request, err := http.NewRequest(http.MethodGet, td.server.URL+"/auth-check", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("GET /auth-check: %v", err)
	}
	response.Body.Close()

	if response.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", response.StatusCode)
	}
	if location := response.Header.Get("Location"); location != "http://localhost:8746/break" {
		t.Errorf("Location = %q", location)
	}
}

func TestTodayEndpoint(t *testing.T) {
	td := newTestDaemon(t, nil)

	var today api.TodayResponse
	if code := td.do(t, http.MethodGet, "/sessions/today", nil, &today); code != http.StatusOK {
		t.Fatalf("today = %d", code)
	}
	if today.Completed != 0 || today.CapRemaining != 10 {
		t.Errorf("fresh today = %+v", today)
	}
	if today.Day != "2026-02-03" {
		t.Errorf("day = %q", today.Day)
	}

	// Complete one session end to end.
	td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil)
	td.clock.Advance(time.Hour)
	td.status(t)

	if code := td.do(t, http.MethodGet, "/sessions/today", nil, &today); code != http.StatusOK {
		t.Fatalf("today = %d", code)
	}
	if today.Completed != 1 || today.CapRemaining != 9 {
		t.Errorf("today after one completion = %+v", today)
	}
	if today.CompletedByType["personal"] != 1 {
		t.Errorf("completedByType = %v, want personal:1", today.CompletedByType)
	}
	if len(today.Sessions) != 1 || today.Sessions[0].Status != session.StatusCompleted {
		t.Errorf("sessions = %+v", today.Sessions)
	}
}

func TestTodayWithNonUTCClock(t *testing.T) {
	td := newTestDaemon(t, nil)

	// 21:00 Feb 6 in a UTC-4 zone is already Feb 7 in UTC. The
	// completion counter and the today view must agree on the day key
	// regardless of the host zone.
	td.clock.Set(time.Date(2026, 2, 6, 21, 0, 0, 0, time.FixedZone("UTC-4", -4*60*60)))

	td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil)
	td.clock.Advance(time.Hour)
	td.status(t)

	var today api.TodayResponse
	if code := td.do(t, http.MethodGet, "/sessions/today", nil, &today); code != http.StatusOK {
		t.Fatalf("today = %d", code)
	}
	if today.Day != "2026-02-07" {
		t.Errorf("day = %q, want UTC day 2026-02-07", today.Day)
	}
	if today.Completed != 1 {
		t.Errorf("completed = %d, want 1", today.Completed)
	}
	if len(today.Sessions) != 1 || today.Sessions[0].Status != session.StatusCompleted {
		t.Errorf("sessions = %+v", today.Sessions)
	}
}

func TestRabbitHoleCheckEndpoint(t *testing.T) {
	td := newTestDaemon(t, nil)

	completePersonal := func() {
		t.Helper()
		if code := td.do(t, http.MethodPost, "/sessions/start", api.StartRequest{Type: "personal"}, nil); code != http.StatusCreated {
			t.Fatalf("start = %d", code)
		}
		td.clock.Advance(time.Hour)
		td.status(t)
	}

	var check api.RabbitHoleResponse
	td.do(t, http.MethodGet, "/sessions/rabbit-hole-check", nil, &check)
	if check.ShouldAlert {
		t.Error("fresh daemon alerts")
	}

	completePersonal()
	completePersonal()

	if code := td.do(t, http.MethodGet, "/sessions/rabbit-hole-check", nil, &check); code != http.StatusOK {
		t.Fatalf("check = %d", code)
	}
	if !check.ShouldAlert || check.ConsecutiveCount != 2 {
		t.Errorf("check = %+v, want alert at 2", check)
	}
}

func TestPrioritiesAndSettings(t *testing.T) {
	td := newTestDaemon(t, nil)

	var priorities api.PrioritiesResponse
	if code := td.do(t, http.MethodGet, "/priorities", nil, &priorities); code != http.StatusOK {
		t.Fatalf("priorities = %d", code)
	}
	if len(priorities.Priorities) != 1 || priorities.Priorities[0].Name != "Thesis" {
		t.Errorf("priorities = %+v", priorities.Priorities)
	}

	var settings api.SettingsResponse
	if code := td.do(t, http.MethodGet, "/settings", nil, &settings); code != http.StatusOK {
		t.Fatalf("settings = %d", code)
	}
	if settings.SessionDurationSeconds != 1500 || settings.ShortBreakSeconds != 300 {
		t.Errorf("settings = %+v", settings)
	}
	if settings.DailyCap != 10 || settings.RabbitHoleThreshold != 2 {
		t.Errorf("settings = %+v", settings)
	}
}

func TestHealthz(t *testing.T) {
	td := newTestDaemon(t, nil)
	if code := td.do(t, http.MethodGet, "/healthz", nil, nil); code != http.StatusNoContent {
		t.Errorf("healthz = %d, want 204", code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	td := newTestDaemon(t, nil)

	// Bodies that never decode get "invalid_body", keeping
	// "missing_field" for the machine's verdict on decoded requests.
	cases := []struct {
		name string
		body string
	}{
		{"truncated", `{"type": "personal", "unknown": tru`},
		{"trailing garbage", `{"type": "personal"} extra`},
	}
	for _, c := range cases {
		response, err := http.Post(td.server.URL+"/sessions/start", "application/json",
			bytes.NewReader([]byte(c.body)))
		if err != nil {
			t.Fatalf("%s: POST: %v", c.name, err)
		}
		var errorBody api.ErrorResponse
		if err := json.NewDecoder(response.Body).Decode(&errorBody); err != nil {
			t.Fatalf("%s: decoding error body: %v", c.name, err)
		}
		response.Body.Close()
		if response.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", c.name, response.StatusCode)
		}
		if errorBody.Code != "invalid_body" {
			t.Errorf("%s: code = %q, want invalid_body", c.name, errorBody.Code)
		}
	}
}

func TestSocketActionsRoundTrip(t *testing.T) {
	// The socket surface shares handlers with HTTP; exercise the
	// action layer directly against the same daemon.
	td := newTestDaemon(t, nil)
	ctx := context.Background()

	result, err := td.daemon.actionStatus(ctx, nil)
	if err != nil {
		t.Fatalf("actionStatus: %v", err)
	}
	if status := result.(api.StatusResponse); status.Mode != "idle" {
		t.Errorf("mode = %q", status.Mode)
	}

	// Socket requests are CBOR on the wire.
	encoded := mustCBOR(t, map[string]any{
		"action":     "start",
		"type":       "expected",
		"priorityId": td.priority.ID,
	})
	result, err = td.daemon.actionStart(ctx, encoded)
	if err != nil {
		t.Fatalf("actionStart: %v", err)
	}
	if response := result.(api.SessionResponse); response.Session.Type != session.Expected {
		t.Errorf("started = %+v", response.Session)
	}

	// A second start comes back with a coded conflict.
	_, err = td.daemon.actionStart(ctx, encoded)
	if err == nil {
		t.Fatal("second start succeeded")
	}
}

func mustCBOR(t *testing.T, value any) []byte {
	t.Helper()
	encoded, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("codec.Marshal: %v", err)
	}
	return encoded
}
