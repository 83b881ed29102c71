package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/service/database"
	"github.com/Datify-sh/Datify/internal/service/metrics"
)

const restLogTailDefault = 100

func (r *Router) handleDatabase(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	id := req.PathValue("id")
	switch req.Method {
	case http.MethodGet:
		inst, err := r.databases.Get(req.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		view, err := r.instanceView(req, actor, inst)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		var payload struct {
			Name           *string  `json:"name"`
			CPULimit       *float64 `json:"cpu_limit"`
			MemoryLimitMB  *int     `json:"memory_limit_mb"`
			StorageLimitMB *int     `json:"storage_limit_mb"`
			PublicExposed  *bool    `json:"public_exposed"`
		}
		if err := decodeJSON(req, &payload); err != nil {
			writeDomainError(w, err)
			return
		}
		inst, err := r.databases.Update(req.Context(), actor, id, database.UpdateInput{
			Name:          payload.Name,
			CPUCores:      payload.CPULimit,
			MemoryMB:      payload.MemoryLimitMB,
			StorageMB:     payload.StorageLimitMB,
			PublicExposed: payload.PublicExposed,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		view, err := r.instanceView(req, actor, inst)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		force, _ := strconv.ParseBool(req.URL.Query().Get("force"))
		if err := r.databases.Delete(req.Context(), actor, id, force); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDatabaseStart(w http.ResponseWriter, req *http.Request) {
	r.lifecycleTransition(w, req, r.databases.Start)
}

func (r *Router) handleDatabaseStop(w http.ResponseWriter, req *http.Request) {
	r.lifecycleTransition(w, req, r.databases.Stop)
}

func (r *Router) handleDatabaseRestart(w http.ResponseWriter, req *http.Request) {
	r.lifecycleTransition(w, req, r.databases.Restart)
}

// lifecycleTransition runs one of start/stop/restart. The returned view still
// carries the transitional status; callers poll or stream for the outcome.
func (r *Router) lifecycleTransition(w http.ResponseWriter, req *http.Request, op func(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error)) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	inst, err := op(req.Context(), actor, req.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newDatabaseView(inst, nil))
}

func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	id := req.PathValue("id")
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := r.databases.ChangePassword(req.Context(), actor, id, payload.CurrentPassword, payload.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	inst, err := r.databases.Get(req.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	view, err := r.instanceView(req, actor, inst)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleSyncFromParent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	inst, err := r.databases.SyncFromParent(req.Context(), actor, req.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDatabaseView(inst, nil))
}

func (r *Router) handleBranches(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	id := req.PathValue("id")
	switch req.Method {
	case http.MethodGet:
		branches, err := r.databases.ListBranches(req.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		views := make([]branchView, len(branches))
		for i := range branches {
			views[i] = newBranchView(&branches[i])
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			IncludeData *bool  `json:"include_data"`
		}
		if err := decodeJSON(req, &payload); err != nil {
			writeDomainError(w, err)
			return
		}
		input := database.BranchInput{Name: payload.Name, IncludeData: true}
		if payload.IncludeData != nil {
			input.IncludeData = *payload.IncludeData
		}
		branch, err := r.databases.CreateBranch(req.Context(), actor, id, input)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDatabaseView(branch, nil))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleQuery(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	var payload struct {
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
		TimeoutMS int    `json:"timeout_ms"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := r.databases.Query(req.Context(), actor, req.PathValue("id"), database.QueryInput{
		Query:    payload.Query,
		RowLimit: payload.Limit,
		Timeout:  time.Duration(payload.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResultView(result))
}

func (r *Router) handleDatabaseLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	inst, err := r.databases.Get(req.Context(), actor, req.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	page := domain.LogPage{DatabaseID: inst.ID, ContainerID: inst.ContainerID, Entries: []domain.LogEntry{}}
	if inst.ContainerID != nil {
		opts := docker.LogsOptions{Tail: r.restLogTail(req)}
		if raw := req.URL.Query().Get("since"); raw != "" {
			sec, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeDomainError(w, domain.NewError(domain.CodeBadName, "invalid since %q", raw).WithDetail("since", "must be unix seconds"))
				return
			}
			opts.Since = time.Unix(sec, 0)
		}
		opts.Timestamps, _ = strconv.ParseBool(req.URL.Query().Get("timestamps"))
		lines, hasMore, err := r.driver.ContainerLogs(req.Context(), *inst.ContainerID, opts)
		if err != nil {
			writeDomainError(w, domain.WrapError(domain.CodeRuntimeUnavailable, err, "read container logs"))
			return
		}
		page.HasMore = hasMore
		page.Entries = make([]domain.LogEntry, len(lines))
		for i, line := range lines {
			page.Entries[i] = runtimeLogEntry(line)
		}
	}
	writeJSON(w, http.StatusOK, newLogPageView(&page))
}

func (r *Router) restLogTail(req *http.Request) int {
	tail := restLogTailDefault
	if raw := req.URL.Query().Get("tail"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			tail = parsed
		}
	}
	if max := r.cfg.LogTailMax; max > 0 && tail > max {
		tail = max
	}
	return tail
}

func runtimeLogEntry(line docker.LogLine) domain.LogEntry {
	return domain.LogEntry{
		Timestamp: line.Timestamp,
		LogType:   domain.LogTypeRuntime,
		Stream:    line.Stream,
		Message:   line.Message,
	}
}

func (r *Router) handleDatabaseMetrics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	id := req.PathValue("id")
	current, err := r.metrics.Current(req.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics.NewView(id, current))
}

func (r *Router) handleMetricsHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	rng, err := domain.ParseTimeRange(req.URL.Query().Get("range"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	history, err := r.metrics.History(req.Context(), actor, req.PathValue("id"), rng)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics.NewHistoryView(*history))
}

func (r *Router) handleQueryStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	sortBy, err := domain.ParseQuerySort(req.URL.Query().Get("sort_by"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	id := req.PathValue("id")
	stats, err := r.metrics.QueryLogs(req.Context(), actor, id, sortBy, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"database_id":   id,
		"entries":       metrics.NewQueryStatViews(stats),
		"total_queries": len(stats),
	})
}

func (r *Router) handleDatabaseConfig(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	id := req.PathValue("id")
	switch req.Method {
	case http.MethodGet:
		doc, err := r.configs.Get(req.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newConfigView(doc))
	case http.MethodPut:
		var payload struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(req, &payload); err != nil {
			writeDomainError(w, err)
			return
		}
		result, err := r.configs.Put(req.Context(), actor, id, payload.Content)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newConfigApplyView(result))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSystem(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, err := r.system.Info(req.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSystemView(info))
}

func (r *Router) versionsHandler(kind domain.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		catalog, err := r.system.Versions(kind)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVersionCatalogView(catalog))
	}
}
