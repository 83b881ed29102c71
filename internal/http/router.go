package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/docker/docker/api/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
	"github.com/Datify-sh/Datify/internal/service/auth"
	"github.com/Datify-sh/Datify/internal/service/database"
	"github.com/Datify-sh/Datify/internal/service/project"
	"github.com/Datify-sh/Datify/internal/ws"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/jwt"
)

// AuthService is the account and token surface the router consumes.
type AuthService interface {
	Register(ctx context.Context, input auth.RegisterInput) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	Logout(ctx context.Context, token string) error
	Authorize(ctx context.Context, token string) (*jwt.Claims, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
}

// ProjectService groups instances under owners.
type ProjectService interface {
	Create(ctx context.Context, actor domain.Actor, input project.CreateInput) (*domain.Project, error)
	Get(ctx context.Context, actor domain.Actor, id string) (*domain.ProjectWithStats, error)
	List(ctx context.Context, actor domain.Actor) ([]domain.ProjectWithStats, error)
	Update(ctx context.Context, actor domain.Actor, id string, input project.UpdateInput) (*domain.Project, error)
	Delete(ctx context.Context, actor domain.Actor, id string) error
}

// DatabaseService is the instance lifecycle surface.
type DatabaseService interface {
	Create(ctx context.Context, actor domain.Actor, input database.CreateInput) (*domain.Database, error)
	Get(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error)
	List(ctx context.Context, actor domain.Actor, projectID string) ([]domain.Database, error)
	Update(ctx context.Context, actor domain.Actor, id string, input database.UpdateInput) (*domain.Database, error)
	Delete(ctx context.Context, actor domain.Actor, id string, force bool) error
	Start(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error)
	Stop(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error)
	Restart(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error)
	ChangePassword(ctx context.Context, actor domain.Actor, id, current, next string) error
	Connection(ctx context.Context, actor domain.Actor, id string) (*domain.ConnectionInfo, error)
	CreateBranch(ctx context.Context, actor domain.Actor, parentID string, input database.BranchInput) (*domain.Database, error)
	SyncFromParent(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error)
	ListBranches(ctx context.Context, actor domain.Actor, id string) ([]domain.Database, error)
	Query(ctx context.Context, actor domain.Actor, id string, input database.QueryInput) (*domain.QueryResult, error)
}

// MetricsService reads scraped engine metrics.
type MetricsService interface {
	Current(ctx context.Context, actor domain.Actor, id string) (domain.EngineMetrics, error)
	History(ctx context.Context, actor domain.Actor, id string, rng domain.TimeRange) (*domain.MetricsHistory, error)
	QueryLogs(ctx context.Context, actor domain.Actor, id string, sortBy domain.QuerySort, limit int) ([]domain.QueryStat, error)
}

// ConfigService edits engine configuration.
type ConfigService interface {
	Get(ctx context.Context, actor domain.Actor, id string) (domain.ConfigDocument, error)
	Put(ctx context.Context, actor domain.Actor, id, content string) (domain.ConfigApplyResult, error)
}

// SystemService reports daemon health and version catalogs.
type SystemService interface {
	Info(ctx context.Context) (*domain.SystemInfo, error)
	Versions(kind domain.Engine) (*domain.VersionCatalog, error)
}

// StreamDriver is the container runtime slice the streaming endpoints use.
type StreamDriver interface {
	ContainerLogs(ctx context.Context, id string, opts docker.LogsOptions) ([]docker.LogLine, bool, error)
	FollowContainerLogs(ctx context.Context, id string, tail int) (<-chan docker.LogLine, <-chan error)
	CreateExec(ctx context.Context, id string, cmd []string, tty, stdin bool) (string, error)
	AttachExec(ctx context.Context, execID string, tty bool) (types.HijackedResponse, error)
	ResizeExec(ctx context.Context, execID string, cols, rows uint) error
}

// AdapterRegistry resolves engine adapters. Satisfied by *engine.Registry.
type AdapterRegistry interface {
	ForKind(kind domain.Engine) (engine.Adapter, error)
}

// Router wires HTTP and WebSocket endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	cfg       config.DaemonConfig
	auth      AuthService
	projects  ProjectService
	databases DatabaseService
	metrics   MetricsService
	configs   ConfigService
	system    SystemService
	driver    StreamDriver
	adapters  AdapterRegistry
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	sessions  *sessionRegistry
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	streamSessions     *prometheus.GaugeVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitRefresh   = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, cfg config.DaemonConfig, authSvc AuthService, projectSvc ProjectService, databaseSvc DatabaseService, metricsSvc MetricsService, configSvc ConfigService, systemSvc SystemService, driver StreamDriver, adapters AdapterRegistry, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		cfg:       cfg,
		auth:      authSvc,
		projects:  projectSvc,
		databases: databaseSvc,
		metrics:   metricsSvc,
		configs:   configSvc,
		system:    systemSvc,
		driver:    driver,
		adapters:  adapters,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		sessions: newSessionRegistry(cfg.StreamSessionLimit),
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/health", r.audit(r.handleHealth))
	r.mux.HandleFunc("/metrics", r.audit(promhttp.Handler().ServeHTTP))

	r.mux.HandleFunc("/api/v1/auth/register", r.audit(r.withRateLimit("auth_register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/api/v1/auth/login", r.audit(r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/v1/auth/refresh", r.audit(r.withRateLimit("auth_refresh", rateLimitRefresh, rateWindowDefault, rateLimitKeyIP, r.handleRefresh)))
	r.mux.HandleFunc("/api/v1/auth/logout", r.audit(r.requireAuth(r.handleLogout)))
	r.mux.HandleFunc("/api/v1/auth/me", r.audit(r.requireAuth(r.handleMe)))

	r.mux.HandleFunc("/api/v1/projects", r.audit(r.requireAuth(r.handleProjects)))
	r.mux.HandleFunc("/api/v1/projects/{id}", r.audit(r.requireAuth(r.handleProject)))
	r.mux.HandleFunc("/api/v1/projects/{id}/databases", r.audit(r.requireAuth(r.handleProjectDatabases)))

	r.mux.HandleFunc("/api/v1/databases/{id}", r.audit(r.requireAuth(r.handleDatabase)))
	r.mux.HandleFunc("/api/v1/databases/{id}/start", r.audit(r.requireAuth(r.handleDatabaseStart)))
	r.mux.HandleFunc("/api/v1/databases/{id}/stop", r.audit(r.requireAuth(r.handleDatabaseStop)))
	r.mux.HandleFunc("/api/v1/databases/{id}/restart", r.audit(r.requireAuth(r.handleDatabaseRestart)))
	r.mux.HandleFunc("/api/v1/databases/{id}/change-password", r.audit(r.requireAuth(r.handleChangePassword)))
	r.mux.HandleFunc("/api/v1/databases/{id}/sync-from-parent", r.audit(r.requireAuth(r.handleSyncFromParent)))
	r.mux.HandleFunc("/api/v1/databases/{id}/branches", r.audit(r.requireAuth(r.handleBranches)))
	r.mux.HandleFunc("/api/v1/databases/{id}/query", r.audit(r.requireAuth(r.handleQuery)))
	r.mux.HandleFunc("/api/v1/databases/{id}/logs", r.audit(r.requireAuth(r.handleDatabaseLogs)))
	r.mux.HandleFunc("/api/v1/databases/{id}/metrics", r.audit(r.requireAuth(r.handleDatabaseMetrics)))
	r.mux.HandleFunc("/api/v1/databases/{id}/metrics/history", r.audit(r.requireAuth(r.handleMetricsHistory)))
	r.mux.HandleFunc("/api/v1/databases/{id}/queries", r.audit(r.requireAuth(r.handleQueryStats)))
	r.mux.HandleFunc("/api/v1/databases/{id}/config", r.audit(r.requireAuth(r.handleDatabaseConfig)))

	r.mux.HandleFunc("/api/v1/databases/{id}/logs/stream", r.audit(r.handleLogsStream))
	r.mux.HandleFunc("/api/v1/databases/{id}/metrics/stream", r.audit(r.handleMetricsStream))
	r.mux.HandleFunc("/api/v1/databases/{id}/terminal", r.audit(r.handleTerminal))
	r.mux.HandleFunc("/api/v1/databases/{id}/psql", r.audit(r.handlePsql))
	r.mux.HandleFunc("/api/v1/databases/{id}/valkey-cli", r.audit(r.handleValkeyCli))
	r.mux.HandleFunc("/api/v1/databases/{id}/redis-cli", r.audit(r.handleRedisCli))

	r.mux.HandleFunc("/api/v1/system", r.audit(r.requireAuth(r.handleSystem)))
	r.mux.HandleFunc("/api/v1/system/postgres-versions", r.audit(r.requireAuth(r.versionsHandler(domain.EnginePostgres))))
	r.mux.HandleFunc("/api/v1/system/valkey-versions", r.audit(r.requireAuth(r.versionsHandler(domain.EngineValkey))))
	r.mux.HandleFunc("/api/v1/system/redis-versions", r.audit(r.requireAuth(r.versionsHandler(domain.EngineRedis))))

	r.mux.HandleFunc("/", r.audit(r.handleFallback))
}

func (r *Router) handleFallback(w http.ResponseWriter, req *http.Request) {
	r.notFound(w)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		route := routePattern(req)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.Actor.UserID)
			if info.Actor.Admin {
				fields = append(fields, "admin", true)
			}
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routePattern labels metrics with the matched pattern rather than the raw
// path so instance ids do not explode the label space.
func routePattern(req *http.Request) string {
	if pattern := req.Pattern; pattern != "" {
		return pattern
	}
	return req.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusMethodNotAllowed, domain.CodeOther, "method not allowed", nil)
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusNotFound, domain.CodeNotFound, "not found", nil)
}

// requestActor extracts the authenticated actor. Handlers behind requireAuth
// treat a miss as a wiring bug.
func (r *Router) requestActor(w http.ResponseWriter, req *http.Request) (domain.Actor, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeErrorCode(w, http.StatusInternalServerError, domain.CodeOther, "authorization context missing", nil)
		return domain.Actor{}, false
	}
	return info.Actor, true
}
