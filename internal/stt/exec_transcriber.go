package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	audioutil "github.com/voicegate-labs/voicegate/internal/audio"
	"github.com/voicegate-labs/voicegate/internal/config"
)

type execTranscriber struct {
	cmd        []string
	cfg        config.STTConfig
	sampleRate int
	mu         sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecTranscriber runs an external STT command per request. The command
// receives a WAV file and must print {"text": string} on stdout.
func NewExecTranscriber(cfg config.STTConfig, sampleRate int) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg, sampleRate: sampleRate}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, samples []float32, hint string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voicegate_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audioutil.WriteWavFile(file, samples, t.sampleRate, 1); err != nil {
		return "", err
	}

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if t.cfg.ModelPath != "" {
		args = append(args, "--model", t.cfg.ModelPath)
	}
	if t.cfg.Language != "" {
		args = append(args, "--language", t.cfg.Language)
	}
	if hint != "" {
		args = append(args, "--prompt", hint)
	}

	command := exec.CommandContext(ctx, t.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return resp.Text, nil
}

func (t *execTranscriber) Available() bool {
	return len(t.cmd) > 0
}
