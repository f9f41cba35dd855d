// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/balance-foundation/balance/lib/api"
	"github.com/balance-foundation/balance/lib/codec"
	"github.com/balance-foundation/balance/lib/service"
	"github.com/balance-foundation/balance/lib/session"
)

// registerActions registers the control socket actions. The socket
// serves the same operations as the HTTP API, for local tooling.
func (d *daemon) registerActions(server *service.SocketServer) {
	server.Handle("status", d.actionStatus)
	server.Handle("timer-complete", d.actionTimerComplete)
	server.Handle("start", d.actionStart)
	server.Handle("abandon", d.actionAbandon)
	server.Handle("review", d.actionReview)
	server.Handle("rabbit-hole-check", d.actionRabbitHoleCheck)
	server.Handle("today", d.actionToday)
}

// coded wraps a machine error with its taxonomy code so the socket
// envelope carries it.
func coded(err error) error {
	if err == nil {
		return nil
	}
	return &service.CodedError{Code: session.ErrorCode(err), Err: err}
}

func (d *daemon) actionStatus(ctx context.Context, raw []byte) (any, error) {
	snap, err := d.machine.Status(ctx)
	if err != nil {
		return nil, coded(err)
	}
	return api.FromSnapshot(snap), nil
}

// actionTimerComplete is the client timer nudge. Identical to status:
// resolution happens on every call, the nudge just names the intent.
func (d *daemon) actionTimerComplete(ctx context.Context, raw []byte) (any, error) {
	snap, err := d.machine.TimerComplete(ctx)
	if err != nil {
		return nil, coded(err)
	}
	return api.FromSnapshot(snap), nil
}

func (d *daemon) actionStart(ctx context.Context, raw []byte) (any, error) {
	var request api.StartRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}

	started, err := d.machine.StartSession(ctx, session.StartRequest{
		Type:       session.Type(request.Type),
		Intention:  request.Intention,
		PriorityID: request.PriorityID,
	})
	if err != nil {
		return nil, coded(err)
	}
	return api.SessionResponse{Session: started}, nil
}

func (d *daemon) actionAbandon(ctx context.Context, raw []byte) (any, error) {
	abandoned, err := d.machine.AbandonSession(ctx)
	if err != nil {
		return nil, coded(err)
	}
	return api.SessionResponse{Session: abandoned}, nil
}

func (d *daemon) actionReview(ctx context.Context, raw []byte) (any, error) {
	var request api.ReviewRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}

	reviewed, err := d.machine.SubmitReview(ctx, request.Review())
	if err != nil {
		return nil, coded(err)
	}
	return api.SessionResponse{Session: reviewed}, nil
}

func (d *daemon) actionRabbitHoleCheck(ctx context.Context, raw []byte) (any, error) {
	status, err := d.machine.RabbitHoleCheck(ctx)
	if err != nil {
		return nil, coded(err)
	}
	return api.RabbitHoleResponse{
		ShouldAlert:      status.ShouldAlert,
		ConsecutiveCount: status.ConsecutiveCount,
	}, nil
}

func (d *daemon) actionToday(ctx context.Context, raw []byte) (any, error) {
	today, err := d.todayResponse(ctx)
	if err != nil {
		return nil, coded(err)
	}
	return today, nil
}
