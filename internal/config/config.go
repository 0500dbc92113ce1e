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

type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	ChunkDurationMS int `yaml:"chunk_duration_ms"`
}

// SegmenterConfig tunes the energy-based endpoint detector. The thresholds
// vary per deployment and microphone, so none of them are hardcoded.
type SegmenterConfig struct {
	VADThreshold      float64 `yaml:"vad_threshold"`
	SilenceDurationMS int     `yaml:"silence_duration_ms"`
	MaxSpeechMS       int     `yaml:"max_speech_ms"`
	MinSpeechMS       int     `yaml:"min_speech_ms"`
}

type ChallengeConfig struct {
	MaxTrials       int     `yaml:"max_trials"`
	TTLSeconds      int     `yaml:"ttl_seconds"`
	MinWords        int     `yaml:"min_words"`
	MaxWords        int     `yaml:"max_words"`
	MatchThreshold  float64 `yaml:"match_threshold"`
	SweepIntervalMS int     `yaml:"sweep_interval_ms"`
}

// DecisionConfig holds the calibrated similarity bands,
// imposter_below < borderline_below < high_at.
type DecisionConfig struct {
	ImposterBelow   float64 `yaml:"imposter_below"`
	BorderlineBelow float64 `yaml:"borderline_below"`
	HighAt          float64 `yaml:"high_at"`
}

type SpeakerConfig struct {
	Mode      string `yaml:"mode"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type AuditStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	Challenge   ChallengeConfig  `yaml:"challenge"`
	Decision    DecisionConfig   `yaml:"decision"`
	Speaker     SpeakerConfig    `yaml:"speaker"`
	STT         STTConfig        `yaml:"stt"`
	AuditStore  AuditStoreConfig `yaml:"audit_store"`
}

func Default() Config {
	return Config{
		ServiceName: "voicegate",
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
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			ChunkDurationMS: 128,
		},
		Segmenter: SegmenterConfig{
			VADThreshold:      0.002,
			SilenceDurationMS: 400,
			MaxSpeechMS:       4000,
			MinSpeechMS:       300,
		},
		Challenge: ChallengeConfig{
			MaxTrials:       3,
			TTLSeconds:      300,
			MinWords:        3,
			MaxWords:        5,
			MatchThreshold:  0.5,
			SweepIntervalMS: 60000,
		},
		Decision: DecisionConfig{
			ImposterBelow:   0.15,
			BorderlineBelow: 0.30,
			HighAt:          0.40,
		},
		Speaker: SpeakerConfig{
			Mode:      "mock",
			TimeoutMS: 10000,
		},
		STT: STTConfig{
			Mode:      "mock",
			Language:  "en",
			TimeoutMS: 10000,
		},
		AuditStore: AuditStoreConfig{
			Path:          "./data/voicegate-audit.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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
	overrideString(&cfg.ServiceName, "VOICEGATE_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOICEGATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEGATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEGATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEGATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEGATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEGATE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEGATE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOICEGATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEGATE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICEGATE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEGATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEGATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEGATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEGATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEGATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEGATE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "VOICEGATE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOICEGATE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.ChunkDurationMS, "VOICEGATE_AUDIO_CHUNK_DURATION_MS")
	overrideFloat(&cfg.Segmenter.VADThreshold, "VOICEGATE_SEGMENTER_VAD_THRESHOLD")
	overrideInt(&cfg.Segmenter.SilenceDurationMS, "VOICEGATE_SEGMENTER_SILENCE_DURATION_MS")
	overrideInt(&cfg.Segmenter.MaxSpeechMS, "VOICEGATE_SEGMENTER_MAX_SPEECH_MS")
	overrideInt(&cfg.Segmenter.MinSpeechMS, "VOICEGATE_SEGMENTER_MIN_SPEECH_MS")
	overrideInt(&cfg.Challenge.MaxTrials, "VOICEGATE_CHALLENGE_MAX_TRIALS")
	overrideInt(&cfg.Challenge.TTLSeconds, "VOICEGATE_CHALLENGE_TTL_SECONDS")
	overrideInt(&cfg.Challenge.MinWords, "VOICEGATE_CHALLENGE_MIN_WORDS")
	overrideInt(&cfg.Challenge.MaxWords, "VOICEGATE_CHALLENGE_MAX_WORDS")
	overrideFloat(&cfg.Challenge.MatchThreshold, "VOICEGATE_CHALLENGE_MATCH_THRESHOLD")
	overrideInt(&cfg.Challenge.SweepIntervalMS, "VOICEGATE_CHALLENGE_SWEEP_INTERVAL_MS")
	overrideFloat(&cfg.Decision.ImposterBelow, "VOICEGATE_DECISION_IMPOSTER_BELOW")
	overrideFloat(&cfg.Decision.BorderlineBelow, "VOICEGATE_DECISION_BORDERLINE_BELOW")
	overrideFloat(&cfg.Decision.HighAt, "VOICEGATE_DECISION_HIGH_AT")
	overrideString(&cfg.Speaker.Mode, "VOICEGATE_SPEAKER_MODE")
	overrideString(&cfg.Speaker.Command, "VOICEGATE_SPEAKER_COMMAND")
	overrideString(&cfg.Speaker.ModelPath, "VOICEGATE_SPEAKER_MODEL_PATH")
	overrideInt(&cfg.Speaker.TimeoutMS, "VOICEGATE_SPEAKER_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "VOICEGATE_STT_MODE")
	overrideString(&cfg.STT.Command, "VOICEGATE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOICEGATE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VOICEGATE_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "VOICEGATE_STT_TIMEOUT_MS")
	overrideString(&cfg.AuditStore.Path, "VOICEGATE_AUDIT_STORE_PATH")
	overrideString(&cfg.AuditStore.RetentionMode, "VOICEGATE_AUDIT_STORE_RETENTION_MODE")
	overrideInt(&cfg.AuditStore.RetentionDays, "VOICEGATE_AUDIT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.AuditStore.MaxSessions, "VOICEGATE_AUDIT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.AuditStore.VacuumOnStart, "VOICEGATE_AUDIT_STORE_VACUUM_ON_START")
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.ChunkDurationMS <= 0 {
		return errors.New("audio.chunk_duration_ms must be positive")
	}
	if cfg.Segmenter.VADThreshold <= 0 {
		return errors.New("segmenter.vad_threshold must be positive")
	}
	if cfg.Segmenter.SilenceDurationMS < cfg.Audio.ChunkDurationMS {
		return errors.New("segmenter.silence_duration_ms must cover at least one chunk")
	}
	if cfg.Segmenter.MinSpeechMS <= 0 {
		return errors.New("segmenter.min_speech_ms must be positive")
	}
	if cfg.Segmenter.MaxSpeechMS <= cfg.Segmenter.MinSpeechMS {
		return errors.New("segmenter.max_speech_ms must be greater than min_speech_ms")
	}
	if cfg.Challenge.MaxTrials <= 0 {
		return errors.New("challenge.max_trials must be >= 1")
	}
	if cfg.Challenge.TTLSeconds <= 0 {
		return errors.New("challenge.ttl_seconds must be positive")
	}
	if cfg.Challenge.MinWords < 3 || cfg.Challenge.MaxWords > 5 || cfg.Challenge.MinWords > cfg.Challenge.MaxWords {
		return errors.New("challenge word counts must satisfy 3 <= min_words <= max_words <= 5")
	}
	if cfg.Challenge.MatchThreshold <= 0 || cfg.Challenge.MatchThreshold > 1 {
		return errors.New("challenge.match_threshold must be in (0, 1]")
	}
	if !(cfg.Decision.ImposterBelow < cfg.Decision.BorderlineBelow && cfg.Decision.BorderlineBelow < cfg.Decision.HighAt) {
		return errors.New("decision bands must satisfy imposter_below < borderline_below < high_at")
	}
	switch cfg.Speaker.Mode {
	case "mock", "exec":
	default:
		return errors.New("speaker.mode must be one of mock|exec")
	}
	if cfg.Speaker.Mode == "exec" && cfg.Speaker.Command == "" {
		return errors.New("speaker.command must be set when mode=exec")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.AuditStore.Path == "" {
		return errors.New("audit_store.path must not be empty")
	}
	switch cfg.AuditStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("audit_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.AuditStore.RetentionDays < 0 {
		return errors.New("audit_store.retention_days must be >= 0")
	}
	return nil
}
