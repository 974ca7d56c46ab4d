package advisory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MockProvider serves template suggestions without any external calls,
// for development and tests.
type MockProvider struct {
	logger *logrus.Logger
}

// NewMockProvider creates a mock advisory provider.
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name implements Provider.
func (p *MockProvider) Name() string { return "mock" }

// Initialize implements Provider.
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock advisory provider initialized")
	return nil
}

// Suggest implements Provider using the template catalog.
func (p *MockProvider) Suggest(_ context.Context, req Request) (*Advice, error) {
	suggestions := templateSuggestions(req.Context.Subject, req.ConfusionLevel)
	if len(suggestions) > 2 {
		suggestions = suggestions[:2]
	}
	return &Advice{
		ID:             uuid.New().String(),
		Suggestions:    suggestions,
		ConfusionLevel: req.ConfusionLevel,
		Provider:       p.Name(),
		Context:        req.Context,
		GeneratedAt:    time.Now(),
	}, nil
}
