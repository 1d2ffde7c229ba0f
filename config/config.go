// Package config provides configuration management for simnet.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for simnet.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the inspection API server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Simulation holds the defaults for running networks.
	Simulation SimulationConfig `mapstructure:"simulation"`

	// Storage is the run persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Trace is the signal value tracing configuration.
	Trace TraceConfig `mapstructure:"trace"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// WebSocket is the live trace stream configuration.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// WebSocketConfig holds the live trace stream settings.
type WebSocketConfig struct {
	// MaxConnections caps concurrent websocket clients.
	MaxConnections int `mapstructure:"max_connections" validate:"min=1"`

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// PingInterval is how often idle clients are pinged.
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// SimulationConfig holds the defaults applied to every run.
type SimulationConfig struct {
	// Manifest is the network file to run. Empty runs the built-in sorter.
	Manifest string `mapstructure:"manifest" validate:"manifest"`

	// Depth is the ring depth of every signal.
	Depth int `mapstructure:"depth" validate:"min=1"`

	// FanIn allows several writers per signal.
	FanIn bool `mapstructure:"fan_in"`

	// FailFast cancels a run on its first module failure.
	FailFast bool `mapstructure:"fail_fast"`

	// Timeout bounds a run; zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`

	// Seed seeds the sorter's payload generator.
	Seed int64 `mapstructure:"seed"`

	// PayloadSize is the number of payload words per sorter packet.
	PayloadSize int `mapstructure:"payload_size" validate:"min=1"`

	// Addresses is the sorter's packet address sequence.
	Addresses []uint32 `mapstructure:"addresses" validate:"required,min=1"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// TraceConfig holds signal tracing settings.
type TraceConfig struct {
	// Enabled records every accepted signal write of a run.
	Enabled bool `mapstructure:"enabled"`

	// BufferSize bounds the recorder's intake queue.
	BufferSize int `mapstructure:"buffer_size" validate:"min=1"`

	// BatchSize is the largest batch handed to a sink.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`

	// FlushInterval flushes partial batches.
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// Redis is the redis stream sink configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// Stream is the live websocket stream configuration.
	Stream StreamConfig `mapstructure:"stream"`
}

// RedisConfig holds the redis stream sink settings.
type RedisConfig struct {
	// Enabled adds the redis sink.
	Enabled bool `mapstructure:"enabled"`

	// Address is the Redis server address.
	Address string `mapstructure:"address" validate:"required_if=Enabled true,host"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// StreamPrefix prefixes each run's stream key.
	StreamPrefix string `mapstructure:"stream_prefix"`

	// MaxLen trims streams to about this many entries; zero keeps all.
	MaxLen int64 `mapstructure:"max_len" validate:"min=0"`
}

// StreamConfig holds the live broadcast sink settings.
type StreamConfig struct {
	// Enabled forwards trace events to websocket clients.
	Enabled bool `mapstructure:"enabled"`

	// Rate is the number of events per second forwarded; zero is unlimited.
	Rate float64 `mapstructure:"rate" validate:"min=0"`

	// Burst is the largest burst forwarded at once.
	Burst int `mapstructure:"burst" validate:"min=1"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `mapstructure:"insecure"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	// Timeout bounds exporter calls.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type)
}
