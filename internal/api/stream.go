package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/creativemri/internal/progress"
	"github.com/kalambet/creativemri/internal/report"
	"github.com/kalambet/creativemri/internal/storage"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// attach subscribes to jobID and returns the events a new consumer sees
// first: the persisted progress snapshot, or the terminal event when the job
// already finished. Subscribing before reading state means nothing published
// in between is lost.
func attach(deps AppDeps, jobID string) (*progress.Channel, func(), []progress.Event, error) {
	ch, unsub := deps.Hub.Subscribe(jobID)
	job, err := deps.Store.GetJob(jobID)
	if err != nil {
		unsub()
		return nil, nil, nil, err
	}

	switch job.Status {
	case storage.StatusComplete:
		var rep report.Report
		if err := json.Unmarshal([]byte(job.ReportJSON), &rep); err != nil {
			unsub()
			return nil, nil, nil, fmt.Errorf("decoding stored report: %w", err)
		}
		return ch, unsub, []progress.Event{{Stage: progress.StageDone, Report: &rep}}, nil
	case storage.StatusFailed:
		return ch, unsub, []progress.Event{{Error: job.Error}}, nil
	}
	snap := progress.Event{Stage: job.Status, Current: job.ProgressCurrent, Total: job.ProgressTotal, Message: job.ProgressMessage}
	return ch, unsub, []progress.Event{snap}, nil
}

func attachOrError(w http.ResponseWriter, deps AppDeps, jobID string) (*progress.Channel, func(), []progress.Event, bool) {
	ch, unsub, initial, err := attach(deps, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "job not found")
		return nil, nil, nil, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to read job: %v", err)
		return nil, nil, nil, false
	}
	return ch, unsub, initial, true
}

func handleJobEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, unsub, initial, ok := attachOrError(w, deps, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		defer unsub()
		serveSSE(w, r, deps, ch, initial)
	}
}

// serveSSE writes initial and then every event from ch until a terminal
// event, channel close or client disconnect. Disconnecting only detaches this
// consumer; the job keeps running.
func serveSSE(w http.ResponseWriter, r *http.Request, deps AppDeps, ch *progress.Channel, initial []progress.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(ev progress.Event) bool {
		b, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("encoding stream event", "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for _, ev := range initial {
		if !send(ev) || ev.Terminal() {
			return
		}
	}

	for {
		ev, err := ch.Next(r.Context(), deps.pollTimeout())
		switch {
		case errors.Is(err, progress.ErrTimeout):
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		case err != nil:
			return
		}
		if !send(ev) || ev.Terminal() {
			return
		}
	}
}

func handleJobWS(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		ch, unsub, initial, ok := attachOrError(w, deps, jobID)
		if !ok {
			return
		}
		defer unsub()

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		// The read loop only services control frames and notices the close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(ev progress.Event) bool {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return false
			}
			return conn.WriteJSON(ev) == nil
		}
		closeNormal := func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		}

		for _, ev := range initial {
			if !write(ev) {
				return
			}
			if ev.Terminal() {
				closeNormal()
				return
			}
		}

		for {
			ev, err := ch.Next(ctx, deps.pollTimeout())
			switch {
			case errors.Is(err, progress.ErrTimeout):
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				continue
			case errors.Is(err, progress.ErrClosed):
				closeNormal()
				return
			case err != nil:
				return
			}
			if !write(ev) {
				slog.Debug("websocket consumer gone", "job_id", jobID)
				return
			}
			if ev.Terminal() {
				closeNormal()
				return
			}
		}
	}
}
