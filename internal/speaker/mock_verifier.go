package speaker

import "context"

// MockVerifier returns a fixed score; for tests and mock-mode deployments.
type MockVerifier struct {
	ScoreValue float64
	Enrolled   bool
	Err        error
}

func NewMockVerifier(score float64) *MockVerifier {
	return &MockVerifier{ScoreValue: score, Enrolled: true}
}

func (m *MockVerifier) Score(_ context.Context, _ []float32, _ string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	if !m.Enrolled {
		return 0, ErrNotEnrolled
	}
	return m.ScoreValue, nil
}

func (m *MockVerifier) Available() bool {
	return true
}
