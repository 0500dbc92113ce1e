package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Segmenter.VADThreshold != 0.002 {
		t.Fatalf("expected default vad threshold, got %v", cfg.Segmenter.VADThreshold)
	}
	if cfg.Challenge.MaxTrials != 3 {
		t.Fatalf("expected 3 trials, got %d", cfg.Challenge.MaxTrials)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEGATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICEGATE_SEGMENTER_VAD_THRESHOLD", "0.008")
	t.Setenv("VOICEGATE_SEGMENTER_SILENCE_DURATION_MS", "250")
	t.Setenv("VOICEGATE_CHALLENGE_MAX_TRIALS", "5")
	t.Setenv("VOICEGATE_CHALLENGE_TTL_SECONDS", "120")
	t.Setenv("VOICEGATE_DECISION_HIGH_AT", "0.55")
	t.Setenv("VOICEGATE_SPEAKER_MODE", "exec")
	t.Setenv("VOICEGATE_SPEAKER_COMMAND", "./verify-speaker")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Segmenter.VADThreshold != 0.008 {
		t.Fatalf("expected vad threshold override, got %v", cfg.Segmenter.VADThreshold)
	}
	if cfg.Segmenter.SilenceDurationMS != 250 {
		t.Fatalf("expected silence duration override, got %d", cfg.Segmenter.SilenceDurationMS)
	}
	if cfg.Challenge.MaxTrials != 5 {
		t.Fatalf("expected trials override, got %d", cfg.Challenge.MaxTrials)
	}
	if cfg.Challenge.TTLSeconds != 120 {
		t.Fatalf("expected ttl override, got %d", cfg.Challenge.TTLSeconds)
	}
	if cfg.Decision.HighAt != 0.55 {
		t.Fatalf("expected high band override, got %v", cfg.Decision.HighAt)
	}
	if cfg.Speaker.Mode != "exec" || cfg.Speaker.Command != "./verify-speaker" {
		t.Fatalf("expected speaker overrides, got %+v", cfg.Speaker)
	}
}

func TestValidateRejectsBadBands(t *testing.T) {
	t.Setenv("VOICEGATE_DECISION_IMPOSTER_BELOW", "0.5")
	t.Setenv("VOICEGATE_DECISION_BORDERLINE_BELOW", "0.3")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for inverted decision bands")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("VOICEGATE_STT_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec stt without command")
	}
}
