package stt

import "context"

// MockTranscriber returns fixed text; for tests and mock-mode deployments.
type MockTranscriber struct {
	Text string
	Err  error
}

func NewMockTranscriber(text string) *MockTranscriber {
	return &MockTranscriber{Text: text}
}

func (m *MockTranscriber) Transcribe(_ context.Context, _ []float32, _ string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

func (m *MockTranscriber) Available() bool {
	return true
}
