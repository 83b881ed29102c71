package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/service/database"
	"github.com/Datify-sh/Datify/internal/service/project"
)

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.List(req.Context(), actor)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		views := make([]projectView, len(projects))
		for i := range projects {
			views[i] = newProjectStatsView(&projects[i])
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		var payload struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Settings    json.RawMessage `json:"settings"`
		}
		if err := decodeJSON(req, &payload); err != nil {
			writeDomainError(w, err)
			return
		}
		proj, err := r.projects.Create(req.Context(), actor, project.CreateInput{
			Name:        payload.Name,
			Description: payload.Description,
			Settings:    string(payload.Settings),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newProjectView(proj))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	id := req.PathValue("id")
	switch req.Method {
	case http.MethodGet:
		proj, err := r.projects.Get(req.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProjectStatsView(proj))
	case http.MethodPut:
		var payload struct {
			Name        *string          `json:"name"`
			Description *string          `json:"description"`
			Settings    *json.RawMessage `json:"settings"`
		}
		if err := decodeJSON(req, &payload); err != nil {
			writeDomainError(w, err)
			return
		}
		input := project.UpdateInput{Name: payload.Name, Description: payload.Description}
		if payload.Settings != nil {
			settings := string(*payload.Settings)
			input.Settings = &settings
		}
		proj, err := r.projects.Update(req.Context(), actor, id, input)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newProjectView(proj))
	case http.MethodDelete:
		if err := r.projects.Delete(req.Context(), actor, id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectDatabases(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.requestActor(w, req)
	if !ok {
		return
	}
	projectID := req.PathValue("id")
	switch req.Method {
	case http.MethodGet:
		instances, err := r.databases.List(req.Context(), actor, projectID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		views := make([]databaseView, len(instances))
		for i := range instances {
			view, err := r.instanceView(req, actor, &instances[i])
			if err != nil {
				writeDomainError(w, err)
				return
			}
			views[i] = view
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		input, err := decodeCreateInput(req, projectID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		inst, err := r.databases.Create(req.Context(), actor, input)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDatabaseView(inst, nil))
	default:
		r.methodNotAllowed(w)
	}
}

// decodeCreateInput maps the create request onto service input. The version
// key is engine-specific so clients cannot cross-assign versions.
func decodeCreateInput(req *http.Request, projectID string) (database.CreateInput, error) {
	var payload struct {
		Name            string   `json:"name"`
		DatabaseType    string   `json:"database_type"`
		PostgresVersion string   `json:"postgres_version"`
		ValkeyVersion   string   `json:"valkey_version"`
		RedisVersion    string   `json:"redis_version"`
		Password        string   `json:"password"`
		CPULimit        *float64 `json:"cpu_limit"`
		MemoryLimitMB   *int     `json:"memory_limit_mb"`
		StorageLimitMB  *int     `json:"storage_limit_mb"`
		PublicExposed   bool     `json:"public_exposed"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		return database.CreateInput{}, err
	}
	input := database.CreateInput{
		ProjectID:     projectID,
		Name:          payload.Name,
		Engine:        payload.DatabaseType,
		Password:      payload.Password,
		PublicExposed: payload.PublicExposed,
	}
	engineKind, _ := domain.ParseEngine(payload.DatabaseType)
	switch engineKind {
	case domain.EngineValkey:
		input.EngineVersion = payload.ValkeyVersion
	case domain.EngineRedis:
		input.EngineVersion = payload.RedisVersion
	default:
		input.EngineVersion = payload.PostgresVersion
	}
	if payload.CPULimit != nil {
		input.CPUCores = *payload.CPULimit
	}
	if payload.MemoryLimitMB != nil {
		input.MemoryMB = *payload.MemoryLimitMB
	}
	if payload.StorageLimitMB != nil {
		input.StorageMB = *payload.StorageLimitMB
	}
	return input, nil
}

// instanceView renders an instance, embedding connection details when the
// instance is running. A stop racing the render drops the connection slice
// rather than failing the read.
func (r *Router) instanceView(req *http.Request, actor domain.Actor, inst *domain.Database) (databaseView, error) {
	if inst.Status != domain.StatusRunning {
		return newDatabaseView(inst, nil), nil
	}
	conn, err := r.databases.Connection(req.Context(), actor, inst.ID)
	if err != nil {
		if domain.IsCode(err, domain.CodeConflictingState) {
			return newDatabaseView(inst, nil), nil
		}
		return databaseView{}, err
	}
	return newDatabaseView(inst, conn), nil
}
