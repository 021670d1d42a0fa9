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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// DetectorConfig selects and tunes the local presence gatekeeper.
type DetectorConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

// ClassifierConfig selects and tunes the remote gesture classifier.
type ClassifierConfig struct {
	Mode       string  `yaml:"mode"` // mock, http, exec
	Endpoint   string  `yaml:"endpoint"`
	Model      string  `yaml:"model"`
	Command    string  `yaml:"command"`
	APIKey     string  `yaml:"api_key"`
	Prompt     string  `yaml:"prompt"`
	MaxWidth   int     `yaml:"max_width"`
	MaxHeight  int     `yaml:"max_height"`
	Quality    int     `yaml:"jpeg_quality"`
	TimeoutMS  int     `yaml:"timeout_ms"`
	MaxRetries int     `yaml:"max_retries"`
	Temp       float64 `yaml:"temperature"`
}

// RecognizerConfig tunes the orchestrator state machine.
type RecognizerConfig struct {
	DispatchIntervalMS int    `yaml:"dispatch_interval_ms"`
	SessionCap         int    `yaml:"session_cap"`
	Concurrency        string `yaml:"concurrency"` // streaming, single_flight
	CancelOnVanish     bool   `yaml:"cancel_on_vanish"`
	FrameSubject       bool   `yaml:"frame_subject"` // accept frames over the bus
}

// LedgerConfig tunes the live result list.
type LedgerConfig struct {
	TTLMS        int `yaml:"ttl_ms"`
	SweepEveryMS int `yaml:"sweep_every_ms"`
	MaxEntries   int `yaml:"max_entries"`
}

// SpeechConfig tunes synthesis and playback of recognized gestures.
type SpeechConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	PlayerCommand string `yaml:"player_command"`
	Voice         string `yaml:"voice"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	Playback      string `yaml:"playback"` // concurrent, single_flight
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Detector    DetectorConfig   `yaml:"detector"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	Speech      SpeechConfig     `yaml:"speech"`
}

func Default() Config {
	return Config{
		RuntimeName: "signcast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/signcast-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Detector: DetectorConfig{
			Mode: "mock",
		},
		Classifier: ClassifierConfig{
			Mode:       "mock",
			Endpoint:   "http://localhost:11434",
			Model:      "llava:latest",
			Prompt:     defaultPrompt,
			MaxWidth:   640,
			MaxHeight:  480,
			Quality:    80,
			TimeoutMS:  30000,
			MaxRetries: 3,
		},
		Recognizer: RecognizerConfig{
			DispatchIntervalMS: 500,
			SessionCap:         20,
			Concurrency:        "streaming",
			CancelOnVanish:     false,
			FrameSubject:       false,
		},
		Ledger: LedgerConfig{
			TTLMS:        3000,
			SweepEveryMS: 100,
			MaxEntries:   64,
		},
		Speech: SpeechConfig{
			Enabled:    false,
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Channels:   1,
			Playback:   "single_flight",
		},
	}
}

const defaultPrompt = "Identify the sign language gesture shown in this image. " +
	"Answer with the single word or short phrase it represents, or UNKNOWN if no clear gesture is visible."

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
	overrideString(&cfg.RuntimeName, "SIGNCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SIGNCAST_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SIGNCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SIGNCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SIGNCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SIGNCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SIGNCAST_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SIGNCAST_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SIGNCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SIGNCAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SIGNCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SIGNCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SIGNCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SIGNCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SIGNCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SIGNCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SIGNCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "SIGNCAST_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SIGNCAST_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SIGNCAST_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SIGNCAST_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SIGNCAST_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Detector.Mode, "SIGNCAST_DETECTOR_MODE")
	overrideString(&cfg.Detector.Command, "SIGNCAST_DETECTOR_COMMAND")
	overrideString(&cfg.Classifier.Mode, "SIGNCAST_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Endpoint, "SIGNCAST_CLASSIFIER_ENDPOINT")
	overrideString(&cfg.Classifier.Model, "SIGNCAST_CLASSIFIER_MODEL")
	overrideString(&cfg.Classifier.Command, "SIGNCAST_CLASSIFIER_COMMAND")
	overrideString(&cfg.Classifier.APIKey, "SIGNCAST_CLASSIFIER_API_KEY")
	overrideString(&cfg.Classifier.Prompt, "SIGNCAST_CLASSIFIER_PROMPT")
	overrideInt(&cfg.Classifier.MaxWidth, "SIGNCAST_CLASSIFIER_MAX_WIDTH")
	overrideInt(&cfg.Classifier.MaxHeight, "SIGNCAST_CLASSIFIER_MAX_HEIGHT")
	overrideInt(&cfg.Classifier.Quality, "SIGNCAST_CLASSIFIER_JPEG_QUALITY")
	overrideInt(&cfg.Classifier.TimeoutMS, "SIGNCAST_CLASSIFIER_TIMEOUT_MS")
	overrideInt(&cfg.Classifier.MaxRetries, "SIGNCAST_CLASSIFIER_MAX_RETRIES")
	overrideFloat(&cfg.Classifier.Temp, "SIGNCAST_CLASSIFIER_TEMPERATURE")
	overrideInt(&cfg.Recognizer.DispatchIntervalMS, "SIGNCAST_RECOGNIZER_DISPATCH_INTERVAL_MS")
	overrideInt(&cfg.Recognizer.SessionCap, "SIGNCAST_RECOGNIZER_SESSION_CAP")
	overrideString(&cfg.Recognizer.Concurrency, "SIGNCAST_RECOGNIZER_CONCURRENCY")
	overrideBool(&cfg.Recognizer.CancelOnVanish, "SIGNCAST_RECOGNIZER_CANCEL_ON_VANISH")
	overrideBool(&cfg.Recognizer.FrameSubject, "SIGNCAST_RECOGNIZER_FRAME_SUBJECT")
	overrideInt(&cfg.Ledger.TTLMS, "SIGNCAST_LEDGER_TTL_MS")
	overrideInt(&cfg.Ledger.SweepEveryMS, "SIGNCAST_LEDGER_SWEEP_EVERY_MS")
	overrideInt(&cfg.Ledger.MaxEntries, "SIGNCAST_LEDGER_MAX_ENTRIES")
	overrideBool(&cfg.Speech.Enabled, "SIGNCAST_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "SIGNCAST_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "SIGNCAST_SPEECH_COMMAND")
	overrideString(&cfg.Speech.PlayerCommand, "SIGNCAST_SPEECH_PLAYER_COMMAND")
	overrideString(&cfg.Speech.Voice, "SIGNCAST_SPEECH_VOICE")
	overrideInt(&cfg.Speech.SampleRate, "SIGNCAST_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "SIGNCAST_SPEECH_CHANNELS")
	overrideString(&cfg.Speech.Playback, "SIGNCAST_SPEECH_PLAYBACK")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Detector.Mode {
	case "mock", "exec":
	default:
		return errors.New("detector.mode must be one of mock|exec")
	}
	if cfg.Detector.Mode == "exec" && cfg.Detector.Command == "" {
		return errors.New("detector.command must be set when mode=exec")
	}
	switch cfg.Classifier.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("classifier.mode must be one of mock|http|exec")
	}
	if cfg.Classifier.Mode == "http" && cfg.Classifier.Endpoint == "" {
		return errors.New("classifier.endpoint must be set when mode=http")
	}
	if cfg.Classifier.Mode == "exec" && cfg.Classifier.Command == "" {
		return errors.New("classifier.command must be set when mode=exec")
	}
	if cfg.Classifier.MaxWidth <= 0 || cfg.Classifier.MaxHeight <= 0 {
		return errors.New("classifier.max_width and classifier.max_height must be positive")
	}
	if cfg.Classifier.Quality < 1 || cfg.Classifier.Quality > 100 {
		return errors.New("classifier.jpeg_quality must be between 1 and 100")
	}
	if cfg.Classifier.MaxRetries < 0 {
		return errors.New("classifier.max_retries must be >= 0")
	}
	if cfg.Recognizer.DispatchIntervalMS <= 0 {
		return errors.New("recognizer.dispatch_interval_ms must be positive")
	}
	if cfg.Recognizer.SessionCap <= 0 {
		return errors.New("recognizer.session_cap must be positive")
	}
	switch cfg.Recognizer.Concurrency {
	case "streaming", "single_flight":
	default:
		return errors.New("recognizer.concurrency must be one of streaming|single_flight")
	}
	if cfg.Ledger.TTLMS <= 0 {
		return errors.New("ledger.ttl_ms must be positive")
	}
	if cfg.Ledger.SweepEveryMS <= 0 {
		return errors.New("ledger.sweep_every_ms must be positive")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "exec":
		default:
			return errors.New("speech.mode must be one of mock|exec")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
		if cfg.Speech.SampleRate <= 0 {
			return errors.New("speech.sample_rate must be positive")
		}
		if cfg.Speech.Channels <= 0 {
			return errors.New("speech.channels must be positive")
		}
		switch cfg.Speech.Playback {
		case "concurrent", "single_flight":
		default:
			return errors.New("speech.playback must be one of concurrent|single_flight")
		}
	}
	return nil
}
