// Package advisory produces tutoring suggestions when the confusion
// threshold is crossed. Suggestion generation is delegated to pluggable
// providers (an LLM-backed one and a template-based mock); every failure
// path degrades to a single generic fallback so the sampling loop is
// never blocked or crashed by the advisory side.
package advisory

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ScreenContext describes what the learner is looking at. Capturing the
// screen itself is outside the core; a ContextProvider supplies whatever
// context the surrounding system has.
type ScreenContext struct {
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	Source     string    `json:"source,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Request carries everything a provider needs to generate suggestions.
type Request struct {
	ConfusionLevel float64
	Context        ScreenContext
}

// Advice is an ordered set of short tutoring suggestions.
type Advice struct {
	ID             string        `json:"id"`
	Suggestions    []string      `json:"suggestions"`
	ConfusionLevel float64       `json:"confusion_level"`
	Provider       string        `json:"provider"`
	Context        ScreenContext `json:"context"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// Provider generates suggestions. Implementations must respect the
// context deadline; the caller treats any error as a cue to fall back to
// templates.
type Provider interface {
	// Initialize validates configuration and prepares the provider.
	Initialize() error

	// Name returns the provider name used for registration and logging.
	Name() string

	// Suggest generates suggestions for the request.
	Suggest(ctx context.Context, req Request) (*Advice, error)
}

// ContextProvider supplies the screen context for a dispatch.
type ContextProvider interface {
	Capture(ctx context.Context) (ScreenContext, error)
}

// Service is the interface the sampling loop dispatches against.
type Service interface {
	Generate(ctx context.Context, confusionLevel float64) (*Advice, error)
}

// StaticContextProvider returns a fixed context; used when no screen
// capture integration is wired in.
type StaticContextProvider struct {
	Subject string
	Content string
}

// Capture implements ContextProvider.
func (p *StaticContextProvider) Capture(_ context.Context) (ScreenContext, error) {
	subject := p.Subject
	if subject == "" {
		subject = "general"
	}
	return ScreenContext{
		Subject:    subject,
		Content:    p.Content,
		Source:     "static",
		CapturedAt: time.Now(),
	}, nil
}

// Manager keeps the registered providers and routes requests, falling
// back to the default provider when the requested one is missing.
type Manager struct {
	logger          *logrus.Logger
	providers       map[string]Provider
	defaultProvider string
}

// NewManager creates a provider manager.
func NewManager(logger *logrus.Logger, defaultProvider string) *Manager {
	return &Manager{
		logger:          logger,
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// Register initializes and adds a provider. Providers that fail to
// initialize are not registered.
func (m *Manager) Register(provider Provider) error {
	if err := provider.Initialize(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"error":    err,
		}).Error("Failed to initialize advisory provider")
		return err
	}
	m.providers[provider.Name()] = provider
	m.logger.WithField("provider", provider.Name()).Info("Registered advisory provider")
	return nil
}

// Get returns a provider by name.
func (m *Manager) Get(name string) (Provider, bool) {
	p, ok := m.providers[name]
	return p, ok
}

// Suggest routes the request to the named provider, falling back to the
// default when it is not registered.
func (m *Manager) Suggest(ctx context.Context, providerName string, req Request) (*Advice, error) {
	start := time.Now()

	provider, ok := m.Get(providerName)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"provider": providerName,
			"default":  m.defaultProvider,
		}).Warn("Advisory provider not found, falling back to default")
		provider, ok = m.Get(m.defaultProvider)
		if !ok {
			return nil, ErrNoProviderAvailable
		}
	}

	advice, err := provider.Suggest(ctx, req)

	m.logger.WithFields(logrus.Fields{
		"provider":        provider.Name(),
		"confusion_level": req.ConfusionLevel,
		"duration_ms":     time.Since(start).Milliseconds(),
		"error":           err != nil,
	}).Debug("Advisory suggestion completed")

	return advice, err
}
