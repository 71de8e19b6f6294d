package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	ASR         ASRConfig        `yaml:"asr"`
	Synth       SynthConfig      `yaml:"synth"`
	Agent       AgentConfig      `yaml:"agent"`
	Sessions    SessionsConfig   `yaml:"sessions"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ASRConfig describes the remote speech-to-text engine. The engine accepts a
// single streaming session at a time, so transcription calls are serialized
// behind one lock bounded by budget_ms.
type ASRConfig struct {
	Mode            string `yaml:"mode"` // mock, stream
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Language        string `yaml:"language"`
	SamplesPerChunk int    `yaml:"samples_per_chunk"`
	BudgetMS        int    `yaml:"budget_ms"`
	ReadTimeoutMS   int    `yaml:"read_timeout_ms"`
	EventCeiling    int    `yaml:"event_ceiling"`
}

type SynthConfig struct {
	Mode          string `yaml:"mode"` // mock, stream
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SampleRate    int    `yaml:"sample_rate"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

type AgentConfig struct {
	Command         string `yaml:"command"`
	Interactive     bool   `yaml:"interactive"`
	PromptMarker    string `yaml:"prompt_marker"`
	PromptFlag      string `yaml:"prompt_flag"`
	ContextTurns    int    `yaml:"context_turns"`
	InvokeTimeoutMS int    `yaml:"invoke_timeout_ms"`
	GracePeriodMS   int    `yaml:"grace_period_ms"`
}

type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

func Default() Config {
	return Config{
		ServiceName: "parley-gateway",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8765,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/parley-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		ASR: ASRConfig{
			Mode:            "stream",
			Host:            "localhost",
			Port:            10300,
			Language:        "en",
			SamplesPerChunk: 1024,
			BudgetMS:        120000,
			ReadTimeoutMS:   30000,
			EventCeiling:    100,
		},
		Synth: SynthConfig{
			Mode:          "stream",
			Host:          "localhost",
			Port:          10200,
			SampleRate:    22050,
			ReadTimeoutMS: 30000,
		},
		Agent: AgentConfig{
			Command:         "claude chat",
			Interactive:     true,
			PromptMarker:    ">",
			PromptFlag:      "-m",
			ContextTurns:    3,
			InvokeTimeoutMS: 120000,
			GracePeriodMS:   5000,
		},
		Sessions: SessionsConfig{
			Dir: "./data/sessions",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "PARLEY_SERVICE_NAME")
	overrideString(&cfg.Environment, "PARLEY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLEY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "PARLEY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PARLEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "PARLEY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PARLEY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PARLEY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "PARLEY_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PARLEY_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.ASR.Mode, "PARLEY_ASR_MODE")
	overrideString(&cfg.ASR.Host, "PARLEY_ASR_HOST")
	overrideInt(&cfg.ASR.Port, "PARLEY_ASR_PORT")
	overrideString(&cfg.ASR.Language, "PARLEY_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.SamplesPerChunk, "PARLEY_ASR_SAMPLES_PER_CHUNK")
	overrideInt(&cfg.ASR.BudgetMS, "PARLEY_ASR_BUDGET_MS")
	overrideInt(&cfg.ASR.ReadTimeoutMS, "PARLEY_ASR_READ_TIMEOUT_MS")
	overrideInt(&cfg.ASR.EventCeiling, "PARLEY_ASR_EVENT_CEILING")
	overrideString(&cfg.Synth.Mode, "PARLEY_SYNTH_MODE")
	overrideString(&cfg.Synth.Host, "PARLEY_SYNTH_HOST")
	overrideInt(&cfg.Synth.Port, "PARLEY_SYNTH_PORT")
	overrideInt(&cfg.Synth.SampleRate, "PARLEY_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.ReadTimeoutMS, "PARLEY_SYNTH_READ_TIMEOUT_MS")
	overrideString(&cfg.Agent.Command, "PARLEY_AGENT_COMMAND")
	overrideBool(&cfg.Agent.Interactive, "PARLEY_AGENT_INTERACTIVE")
	overrideString(&cfg.Agent.PromptMarker, "PARLEY_AGENT_PROMPT_MARKER")
	overrideString(&cfg.Agent.PromptFlag, "PARLEY_AGENT_PROMPT_FLAG")
	overrideInt(&cfg.Agent.ContextTurns, "PARLEY_AGENT_CONTEXT_TURNS")
	overrideInt(&cfg.Agent.InvokeTimeoutMS, "PARLEY_AGENT_INVOKE_TIMEOUT_MS")
	overrideInt(&cfg.Agent.GracePeriodMS, "PARLEY_AGENT_GRACE_PERIOD_MS")
	overrideString(&cfg.Sessions.Dir, "PARLEY_SESSIONS_DIR")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.ASR.Mode {
	case "mock", "stream":
	default:
		return errors.New("asr.mode must be one of mock|stream")
	}
	if cfg.ASR.Mode == "stream" {
		if cfg.ASR.Host == "" {
			return errors.New("asr.host must be set when mode=stream")
		}
		if cfg.ASR.Port <= 0 || cfg.ASR.Port > 65535 {
			return errors.New("asr.port must be between 1 and 65535")
		}
	}
	if cfg.ASR.SamplesPerChunk <= 0 {
		return errors.New("asr.samples_per_chunk must be positive")
	}
	if cfg.ASR.BudgetMS <= 0 {
		return errors.New("asr.budget_ms must be positive")
	}
	if cfg.ASR.ReadTimeoutMS <= 0 {
		return errors.New("asr.read_timeout_ms must be positive")
	}
	if cfg.ASR.EventCeiling <= 0 {
		return errors.New("asr.event_ceiling must be positive")
	}
	switch cfg.Synth.Mode {
	case "mock", "stream":
	default:
		return errors.New("synth.mode must be one of mock|stream")
	}
	if cfg.Synth.Mode == "stream" {
		if cfg.Synth.Host == "" {
			return errors.New("synth.host must be set when mode=stream")
		}
		if cfg.Synth.Port <= 0 || cfg.Synth.Port > 65535 {
			return errors.New("synth.port must be between 1 and 65535")
		}
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Agent.Command == "" {
		return errors.New("agent.command must not be empty")
	}
	if cfg.Agent.Interactive && cfg.Agent.PromptMarker == "" {
		return errors.New("agent.prompt_marker must not be empty when interactive mode is enabled")
	}
	if cfg.Agent.ContextTurns <= 0 {
		return errors.New("agent.context_turns must be positive")
	}
	if cfg.Agent.InvokeTimeoutMS <= 0 {
		return errors.New("agent.invoke_timeout_ms must be positive")
	}
	if cfg.Agent.GracePeriodMS <= 0 {
		return errors.New("agent.grace_period_ms must be positive")
	}
	if cfg.Sessions.Dir == "" {
		return errors.New("sessions.dir must not be empty")
	}
	return nil
}
