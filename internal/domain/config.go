package domain

// ConfigFormat describes how engine configuration is expressed.
type ConfigFormat string

const (
	ConfigFormatFile ConfigFormat = "file"
	ConfigFormatKV   ConfigFormat = "kv"
)

// ConfigSource describes where the content was read from.
type ConfigSource string

const (
	ConfigSourceFile    ConfigSource = "file"
	ConfigSourceRuntime ConfigSource = "runtime"
	ConfigSourceEmpty   ConfigSource = "empty"
)

// ConfigDocument is the engine configuration view returned to editors.
type ConfigDocument struct {
	DatabaseID      string
	DatabaseType    Engine
	Format          ConfigFormat
	Source          ConfigSource
	Content         string
	Warnings        []string
	RequiresRestart bool
}

// ConfigApplyResult reports the outcome of a config write. Applied=false
// means the values are persisted but a restart must follow.
type ConfigApplyResult struct {
	DatabaseID      string
	DatabaseType    Engine
	Applied         bool
	Warnings        []string
	RequiresRestart bool
}
