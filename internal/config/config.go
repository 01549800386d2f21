// Package config defines service configuration structures and loading.
//
// Conventions:
// - Provide New() initializers that build configs with defaults.
// - Layer defaults -> optional YAML file -> environment variables.
// - Legacy deployment variable names remain readable as aliases.
package config

// Config contains server process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8090".
	Addr string `koanf:"addr"`

	// FunctionSecret guards the ingest and registration endpoints.
	FunctionSecret string `koanf:"function_secret"`

	// ProcessorSecret guards the worker and result endpoints.
	ProcessorSecret string `koanf:"processor_secret"`

	// DefaultHouseholdID enables auto-registration of unknown devices
	// into this household. Empty disables auto-registration.
	DefaultHouseholdID string `koanf:"default_household_id"`

	// QueueSize bounds the in-memory job-wakeup queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of pool workers draining wakeups.
	WorkerCount int `koanf:"worker_count"`

	// RegistryTimeoutMS bounds device-registry writes.
	RegistryTimeoutMS int `koanf:"registry_timeout_ms"`

	// ConsensusBandKG is the tolerance band of the consensus refiner.
	ConsensusBandKG float64 `koanf:"consensus_band_kg"`

	// RecentResults caps how many prior raw weights feed the consensus.
	RecentResults int `koanf:"recent_results"`
}

// New creates a server Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":8090",
		QueueSize:          10_000,
		WorkerCount:        4,
		RegistryTimeoutMS:  7_000,
		ConsensusBandKG:    1.0,
		RecentResults:      10,
		DefaultHouseholdID: "",
	}
}

// Device contains firmware-simulator process configuration.
type Device struct {
	// LogLevel controls verbosity.
	LogLevel string `koanf:"log_level"`

	// ScaleID is the stable hardware identifier sent with every event.
	ScaleID string `koanf:"scale_id"`

	// IngestURL is the server ingest endpoint.
	IngestURL string `koanf:"ingest_url"`

	// FunctionSecret is sent in the x-function-secret header.
	FunctionSecret string `koanf:"function_secret"`

	// DataDir holds the NVS key/value files.
	DataDir string `koanf:"data_dir"`

	// SampleRateSPS selects the ADC rate: 10 or 80.
	SampleRateSPS int `koanf:"sample_rate_sps"`

	// InvertSignal flips converted readings for reversed cell polarity.
	// Runtime-only; not persisted.
	InvertSignal bool `koanf:"invert_signal"`

	// CountsPerGram is the compile-time default calibration factor used
	// until a saved factor exists.
	CountsPerGram float64 `koanf:"counts_per_gram"`

	// HeartbeatBroker enables the MQTT paused-state heartbeat when set,
	// e.g. "tcp://localhost:1883".
	HeartbeatBroker string `koanf:"heartbeat_broker"`

	// HeartbeatTopic is the MQTT topic for heartbeats.
	HeartbeatTopic string `koanf:"heartbeat_topic"`
}

// NewDevice creates a Device config with defaults matching the
// reference firmware.
func NewDevice() *Device {
	return &Device{
		LogLevel:       "info",
		ScaleID:        "SCALE-SIM-001",
		IngestURL:      "http://localhost:8090/ingest",
		DataDir:        "./data",
		SampleRateSPS:  10,
		CountsPerGram:  9863.23333,
		HeartbeatTopic: "autoscale/heartbeat",
	}
}
