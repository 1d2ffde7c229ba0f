package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "simnet",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			WebSocket: WebSocketConfig{
				MaxConnections: 100,
				WriteTimeout:   5 * time.Second,
				PingInterval:   30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Simulation: SimulationConfig{
			Depth:       1,
			FanIn:       false,
			FailFast:    false,
			Seed:        1,
			PayloadSize: 10,
			Addresses:   []uint32{0, 1, 2, 0},
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
		},
		Trace: TraceConfig{
			Enabled:       false,
			BufferSize:    4096,
			BatchSize:     256,
			FlushInterval: 100 * time.Millisecond,
			Redis: RedisConfig{
				Enabled:      false,
				Address:      "localhost:6379",
				StreamPrefix: "simnet:trace:",
			},
			Stream: StreamConfig{
				Enabled: true,
				Rate:    200,
				Burst:   50,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 0.1,
			Timeout:    5 * time.Second,
		},
	}
}
