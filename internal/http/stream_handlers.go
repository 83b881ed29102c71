package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/service/metrics"
	"github.com/Datify-sh/Datify/internal/ws"
	"github.com/Datify-sh/Datify/pkg/config"
)

// streamLogTail resolves the initial tail for a logs stream.
func streamLogTail(req *http.Request, cfg config.DaemonConfig) int {
	tail := cfg.LogTailDefault
	if raw := req.URL.Query().Get("tail"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			tail = parsed
		}
	}
	if cfg.LogTailMax > 0 && tail > cfg.LogTailMax {
		tail = cfg.LogTailMax
	}
	return tail
}

// handleLogsStream follows an instance's container output. The first frame
// replays the tail, later frames carry one line each. The stream ends when
// the peer leaves or the container stops producing output.
func (r *Router) handleLogsStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, info, ok := r.ensureStreamAuth(w, req)
	if !ok {
		return
	}
	req = req.WithContext(ctx)
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	inst, err := r.databases.Get(ctx, info.Actor, req.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if inst.Status != domain.StatusRunning || inst.ContainerID == nil {
		writeDomainError(w, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status))
		return
	}
	containerID := *inst.ContainerID
	tail := streamLogTail(req, r.cfg)

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err, "path", req.URL.Path)
		return
	}
	untrack := r.trackStreamSession("logs")
	client := ws.NewClient(conn, r.logger)

	initial, _, err := r.driver.ContainerLogs(ctx, containerID, docker.LogsOptions{Tail: tail, Timestamps: true})
	if err != nil {
		r.logger.Warn("initial log read failed", "error", err, "database_id", inst.ID)
		initial = nil
	}
	entries := make([]logEntryView, len(initial))
	for i, line := range initial {
		entries[i] = newLogEntryView(runtimeLogEntry(line))
	}
	if !r.sendFrame(client, map[string]any{"type": "initial", "entries": entries}) {
		client.Close()
		untrack()
		return
	}

	// Follow from now on; the initial read already replayed the tail.
	followCtx, cancel := context.WithCancel(ctx)
	lines, errs := r.driver.FollowContainerLogs(followCtx, containerID, 0)

	go func() {
		defer func() {
			cancel()
			client.Close()
			untrack()
		}()
		for {
			select {
			case line, open := <-lines:
				if !open {
					return
				}
				frame := map[string]any{"type": "log", "entry": newLogEntryView(runtimeLogEntry(line))}
				if !r.sendFrame(client, frame) {
					return
				}
			case err := <-errs:
				if err != nil {
					r.logger.Warn("log follow ended", "error", err, "database_id", inst.ID)
				}
				return
			}
		}
	}()

	client.ReadUntilClose()
	cancel()
}

// handleMetricsStream subscribes the peer to an instance's scrape topic.
// The hub broadcasts each sample; the first frames acknowledge the
// subscription and replay a live sample when one is available.
func (r *Router) handleMetricsStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, info, ok := r.ensureStreamAuth(w, req)
	if !ok {
		return
	}
	req = req.WithContext(ctx)
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	id := req.PathValue("id")
	inst, err := r.databases.Get(ctx, info.Actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err, "path", req.URL.Path)
		return
	}
	untrack := r.trackStreamSession("metrics")
	defer untrack()
	client := ws.NewClient(conn, r.logger)

	if !r.sendFrame(client, map[string]any{"type": "connected", "database_id": inst.ID}) {
		client.Close()
		return
	}
	if inst.Status == domain.StatusRunning {
		if sample, err := r.metrics.Current(ctx, info.Actor, id); err == nil {
			if !r.sendFrame(client, map[string]any{"type": "metrics", "metrics": metrics.NewView(id, sample)}) {
				client.Close()
				return
			}
		}
	}

	topic := metrics.MetricsTopic(id)
	r.hub.Register(topic, client)
	client.ReadUntilClose()
	r.hub.Unregister(topic, client)
}

// sendFrame marshals and queues one frame, reporting whether the peer is
// still usable.
func (r *Router) sendFrame(client *ws.Client, frame any) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("frame marshal failed", "error", err)
		return false
	}
	return client.Send(payload) == nil
}
