package domain

// VersionInfo is one selectable engine version.
type VersionInfo struct {
	Version  string
	Tag      string
	IsLatest bool
}

// VersionCatalog lists the versions an engine adapter supports.
type VersionCatalog struct {
	Versions       []VersionInfo
	DefaultVersion string
}

// SystemInfo is the daemon health view served by the system endpoint.
type SystemInfo struct {
	Version          string
	UptimeSeconds    int64
	DockerVersion    string
	DockerAPIVersion string
	DockerStatus     string
	TotalDatabases   int
	RunningDatabases int
}
