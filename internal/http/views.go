package httpx

import (
	"encoding/json"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/service/auth"
)

// userView is the public slice of an account.
type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserView(u *domain.User) userView {
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt}
}

// tokensView is the credential pair returned by register, login and refresh.
type tokensView struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type sessionView struct {
	User   userView   `json:"user"`
	Tokens tokensView `json:"tokens"`
}

func newSessionView(s *auth.Session) sessionView {
	return sessionView{
		User: newUserView(&s.User),
		Tokens: tokensView{
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    s.ExpiresIn,
		},
	}
}

// projectView renders a project. Settings is emitted as the stored JSON
// value, or null when the column holds something unparseable.
type projectView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	Description   string          `json:"description"`
	Settings      json.RawMessage `json:"settings"`
	DatabaseCount *int            `json:"database_count,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newProjectView(p *domain.Project) projectView {
	return projectView{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Settings:    rawSettings(p.Settings),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func newProjectStatsView(p *domain.ProjectWithStats) projectView {
	v := newProjectView(&p.Project)
	count := p.DatabaseCount
	v.DatabaseCount = &count
	return v
}

func rawSettings(stored string) json.RawMessage {
	if stored == "" || !json.Valid([]byte(stored)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(stored)
}

// resourcesView is the limit slice of a database view.
type resourcesView struct {
	CPULimit       float64 `json:"cpu_limit"`
	MemoryLimitMB  int     `json:"memory_limit_mb"`
	StorageLimitMB int     `json:"storage_limit_mb"`
}

// branchInfoView carries the lineage slice of a database view.
type branchInfoView struct {
	Name       string     `json:"name"`
	IsDefault  bool       `json:"is_default"`
	ParentID   *string    `json:"parent_id,omitempty"`
	ParentName *string    `json:"parent_name,omitempty"`
	ForkedAt   *time.Time `json:"forked_at,omitempty"`
}

// connectionView is the decrypted credential view for running instances.
type connectionView struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Database         string `json:"database"`
	ConnectionString string `json:"connection_string"`
}

func newConnectionView(c *domain.ConnectionInfo) connectionView {
	return connectionView{
		Host:             c.Host,
		Port:             c.Port,
		Username:         c.Username,
		Password:         c.Password,
		Database:         c.Database,
		ConnectionString: c.ConnectionString,
	}
}

// databaseView renders one managed instance. Connection is attached only
// when the caller may see credentials and the instance is running.
type databaseView struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Name          string          `json:"name"`
	DatabaseType  domain.Engine   `json:"database_type"`
	Version       string          `json:"version"`
	Status        domain.Status   `json:"status"`
	StatusReason  *string         `json:"status_reason,omitempty"`
	Connection    *connectionView `json:"connection,omitempty"`
	Resources     resourcesView   `json:"resources"`
	StorageUsedMB int64           `json:"storage_used_mb"`
	PublicExposed bool            `json:"public_exposed"`
	Branch        branchInfoView  `json:"branch"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newDatabaseView(d *domain.Database, conn *domain.ConnectionInfo) databaseView {
	v := databaseView{
		ID:           d.ID,
		ProjectID:    d.ProjectID,
		Name:         d.Name,
		DatabaseType: d.Engine,
		Version:      d.EngineVersion,
		Status:       d.Status,
		StatusReason: d.StatusReason,
		Resources: resourcesView{
			CPULimit:       d.CPUCores,
			MemoryLimitMB:  d.MemoryMB,
			StorageLimitMB: d.StorageMB,
		},
		StorageUsedMB: d.StorageUsedMB,
		PublicExposed: d.PublicExposed,
		Branch: branchInfoView{
			Name:       d.BranchName,
			IsDefault:  d.IsDefault,
			ParentID:   d.ParentID,
			ParentName: d.ParentName,
			ForkedAt:   d.ForkedAt,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if conn != nil {
		cv := newConnectionView(conn)
		v.Connection = &cv
	}
	return v
}

// branchView is the compact row returned by the branch list endpoint.
type branchView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	IsDefault bool          `json:"is_default"`
	Status    domain.Status `json:"status"`
	ParentID  *string       `json:"parent_id,omitempty"`
	ForkedAt  *time.Time    `json:"forked_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func newBranchView(d *domain.Database) branchView {
	return branchView{
		ID:        d.ID,
		Name:      d.BranchName,
		IsDefault: d.IsDefault,
		Status:    d.Status,
		ParentID:  d.ParentID,
		ForkedAt:  d.ForkedAt,
		CreatedAt: d.CreatedAt,
	}
}

// queryColumnView names a result column and its reported type.
type queryColumnView struct {
	Name     string `json:"name"`
	DataType string `json:"type"`
}

// queryResultView renders a SQL execution outcome.
type queryResultView struct {
	Columns         []queryColumnView `json:"columns"`
	Rows            [][]any           `json:"rows"`
	RowCount        int64             `json:"row_count"`
	RowsAffected    *int64            `json:"rows_affected,omitempty"`
	ExecutionTimeMS float64           `json:"execution_time_ms"`
	Truncated       bool              `json:"truncated"`
}

func newQueryResultView(r *domain.QueryResult) queryResultView {
	cols := make([]queryColumnView, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = queryColumnView{Name: c.Name, DataType: c.DataType}
	}
	rows := r.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return queryResultView{
		Columns:         cols,
		Rows:            rows,
		RowCount:        r.RowCount,
		RowsAffected:    r.RowsAffected,
		ExecutionTimeMS: r.ExecutionMS,
		Truncated:       r.Truncated,
	}
}

// logEntryView is one container log line on the wire.
type logEntryView struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	LogType   string     `json:"log_type"`
	Stream    string     `json:"stream"`
	Message   string     `json:"message"`
}

func newLogEntryView(e domain.LogEntry) logEntryView {
	return logEntryView{Timestamp: e.Timestamp, LogType: e.LogType, Stream: e.Stream, Message: e.Message}
}

// logPageView is the REST logs response.
type logPageView struct {
	DatabaseID  string         `json:"database_id"`
	ContainerID *string        `json:"container_id,omitempty"`
	Entries     []logEntryView `json:"entries"`
	HasMore     bool           `json:"has_more"`
}

func newLogPageView(p *domain.LogPage) logPageView {
	entries := make([]logEntryView, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = newLogEntryView(e)
	}
	return logPageView{
		DatabaseID:  p.DatabaseID,
		ContainerID: p.ContainerID,
		Entries:     entries,
		HasMore:     p.HasMore,
	}
}

// configView renders an engine configuration document.
type configView struct {
	DatabaseID      string              `json:"database_id"`
	DatabaseType    domain.Engine       `json:"database_type"`
	Format          domain.ConfigFormat `json:"format"`
	Source          domain.ConfigSource `json:"source"`
	Content         string              `json:"content"`
	Warnings        []string            `json:"warnings"`
	RequiresRestart bool                `json:"requires_restart"`
}

func newConfigView(doc domain.ConfigDocument) configView {
	return configView{
		DatabaseID:      doc.DatabaseID,
		DatabaseType:    doc.DatabaseType,
		Format:          doc.Format,
		Source:          doc.Source,
		Content:         doc.Content,
		Warnings:        emptyIfNil(doc.Warnings),
		RequiresRestart: doc.RequiresRestart,
	}
}

// configApplyView reports the outcome of a config write.
type configApplyView struct {
	DatabaseID      string        `json:"database_id"`
	DatabaseType    domain.Engine `json:"database_type"`
	Applied         bool          `json:"applied"`
	Warnings        []string      `json:"warnings"`
	RequiresRestart bool          `json:"requires_restart"`
}

func newConfigApplyView(res domain.ConfigApplyResult) configApplyView {
	return configApplyView{
		DatabaseID:      res.DatabaseID,
		DatabaseType:    res.DatabaseType,
		Applied:         res.Applied,
		Warnings:        emptyIfNil(res.Warnings),
		RequiresRestart: res.RequiresRestart,
	}
}

func emptyIfNil(warnings []string) []string {
	if warnings == nil {
		return []string{}
	}
	return warnings
}

// systemView renders daemon and runtime health counters.
type systemView struct {
	Version          string `json:"version"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	DockerVersion    string `json:"docker_version"`
	DockerAPIVersion string `json:"docker_api_version"`
	DockerStatus     string `json:"docker_status"`
	TotalDatabases   int    `json:"total_databases"`
	RunningDatabases int    `json:"running_databases"`
}

func newSystemView(info *domain.SystemInfo) systemView {
	return systemView{
		Version:          info.Version,
		UptimeSeconds:    info.UptimeSeconds,
		DockerVersion:    info.DockerVersion,
		DockerAPIVersion: info.DockerAPIVersion,
		DockerStatus:     info.DockerStatus,
		TotalDatabases:   info.TotalDatabases,
		RunningDatabases: info.RunningDatabases,
	}
}

// versionInfoView is one selectable engine version.
type versionInfoView struct {
	Version  string `json:"version"`
	Tag      string `json:"tag"`
	IsLatest bool   `json:"is_latest"`
}

// versionCatalogView renders the supported versions of one engine.
type versionCatalogView struct {
	Versions       []versionInfoView `json:"versions"`
	DefaultVersion string            `json:"default_version"`
}

func newVersionCatalogView(cat *domain.VersionCatalog) versionCatalogView {
	versions := make([]versionInfoView, len(cat.Versions))
	for i, v := range cat.Versions {
		versions[i] = versionInfoView{Version: v.Version, Tag: v.Tag, IsLatest: v.IsLatest}
	}
	return versionCatalogView{Versions: versions, DefaultVersion: cat.DefaultVersion}
}
