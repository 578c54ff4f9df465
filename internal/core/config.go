package core

import "time"

// EngineConfig holds runtime configuration for the script engine.
type EngineConfig struct {
	QueueSize         int           `toml:"queue_size"`         // pending task capacity
	BootstrapResource string        `toml:"bootstrap_resource"` // script whose completion value is the request handler
	IdleTimeout       time.Duration `toml:"idle_timeout"`       // longest wait for a task before pumping again
	PumpLimit         int           `toml:"pump_limit"`         // microtask/timer rounds per loop iteration
	MemoryLimitMB     int           `toml:"memory_limit_mb"`    // per-runtime memory limit, 0 for none
	ResponseTimeout   time.Duration `toml:"response_timeout"`   // answer 500 to sockets left open this long, 0 disables
	DatabasePath      string        `toml:"database_path"`      // SQLite file for core.sql, "" disables
}

// ServerConfig holds the listener and worker pool settings.
type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	Workers         int           `toml:"workers"`
	IntakeQueueSize int           `toml:"intake_queue_size"`
	IndexResource   string        `toml:"index_resource"`
	ReadTimeout     time.Duration `toml:"read_timeout"`    // request line read deadline, 0 disables
	MaxConnections  int           `toml:"max_connections"` // concurrent connection cap, 0 for none
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueueSize:         256,
		BootstrapResource: "__global__.js",
		IdleTimeout:       time.Second,
		PumpLimit:         5,
		ResponseTimeout:   30 * time.Second,
	}
}

// DefaultServerConfig returns the server defaults. Workers is left at zero
// for the caller to size.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		IntakeQueueSize: 1024,
		IndexResource:   "index.html",
		ReadTimeout:     30 * time.Second,
	}
}
