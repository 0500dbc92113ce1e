package speaker

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

type execVerifier struct {
	cmd        []string
	cfg        config.SpeakerConfig
	sampleRate int
	mu         sync.Mutex
}

type execScore struct {
	Score    float64 `json:"score"`
	Enrolled bool    `json:"enrolled"`
}

// NewExecVerifier runs an external speaker-verification command per scoring
// request. The command receives a WAV file and the claimed user id and must
// print {"score": float, "enrolled": bool} on stdout.
func NewExecVerifier(cfg config.SpeakerConfig, sampleRate int) (Verifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse speaker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speaker command is empty")
	}
	return &execVerifier{cmd: args, cfg: cfg, sampleRate: sampleRate}, nil
}

func (v *execVerifier) Score(ctx context.Context, samples []float32, userID string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voicegate_spk_*.wav")
	if err != nil {
		return 0, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audioutil.WriteWavFile(file, samples, v.sampleRate, 1); err != nil {
		return 0, err
	}

	args := append([]string{}, v.cmd[1:]...)
	args = append(args, "--audio", file.Name(), "--user", userID)
	if v.cfg.ModelPath != "" {
		args = append(args, "--model", v.cfg.ModelPath)
	}

	command := exec.CommandContext(ctx, v.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return 0, fmt.Errorf("speaker command failed: %w: %s", err, stderr.String())
	}

	var resp execScore
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return 0, fmt.Errorf("decode speaker response: %w", err)
	}
	if !resp.Enrolled {
		return 0, ErrNotEnrolled
	}
	return resp.Score, nil
}

func (v *execVerifier) Available() bool {
	return len(v.cmd) > 0
}
