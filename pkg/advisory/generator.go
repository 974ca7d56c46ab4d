package advisory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxSuggestions = 3
	historyLimit   = 20
)

// GeneratorConfig configures the advisory generator.
type GeneratorConfig struct {
	// Provider is the preferred provider name. The manager falls back to
	// its default when this one is not registered.
	Provider string
}

// Generator implements Service. It captures the screen context, asks the
// configured provider for suggestions, merges in template suggestions as
// a safety net and ranks the combined set.
type Generator struct {
	logger   *logrus.Logger
	manager  *Manager
	contexts ContextProvider
	config   GeneratorConfig

	mu        sync.Mutex
	history   []*Advice
	generated int
	failed    int
}

// NewGenerator creates an advisory generator.
func NewGenerator(logger *logrus.Logger, manager *Manager, contexts ContextProvider, config GeneratorConfig) *Generator {
	if contexts == nil {
		contexts = &StaticContextProvider{}
	}
	return &Generator{
		logger:   logger,
		manager:  manager,
		contexts: contexts,
		config:   config,
	}
}

// Generate implements Service. It never returns an error together with a
// nil advice; on total failure it returns the fallback advice so the
// caller always has something to show.
func (g *Generator) Generate(ctx context.Context, confusionLevel float64) (*Advice, error) {
	screenCtx, err := g.contexts.Capture(ctx)
	if err != nil {
		g.logger.WithError(err).Warn("Screen context capture failed, using empty context")
		screenCtx = ScreenContext{Subject: "general", CapturedAt: time.Now()}
	}

	req := Request{ConfusionLevel: confusionLevel, Context: screenCtx}

	advice, err := g.manager.Suggest(ctx, g.config.Provider, req)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"provider":        g.config.Provider,
			"confusion_level": confusionLevel,
			"error":           err,
		}).Warn("Provider suggestion failed, using templates")
		advice = nil
	}

	templates := templateSuggestions(screenCtx.Subject, confusionLevel)

	var combined []string
	provider := "templates"
	if advice != nil {
		combined = append(combined, advice.Suggestions...)
		provider = advice.Provider
	}
	combined = append(combined, templates...)
	combined = rankSuggestions(combined, screenCtx, confusionLevel)

	if len(combined) == 0 {
		g.mu.Lock()
		g.failed++
		g.mu.Unlock()
		return g.fallbackAdvice(confusionLevel, screenCtx), nil
	}

	result := &Advice{
		ID:             uuid.New().String(),
		Suggestions:    combined,
		ConfusionLevel: confusionLevel,
		Provider:       provider,
		Context:        screenCtx,
		GeneratedAt:    time.Now(),
	}
	g.record(result)
	return result, nil
}

// fallbackAdvice builds the generic advice used when nothing else worked.
func (g *Generator) fallbackAdvice(confusionLevel float64, screenCtx ScreenContext) *Advice {
	advice := &Advice{
		ID:             uuid.New().String(),
		Suggestions:    []string{FallbackSuggestion},
		ConfusionLevel: confusionLevel,
		Provider:       "fallback",
		Context:        screenCtx,
		GeneratedAt:    time.Now(),
	}
	g.record(advice)
	return advice
}

func (g *Generator) record(advice *Advice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generated++
	g.history = append(g.history, advice)
	if len(g.history) > historyLimit {
		g.history = g.history[len(g.history)-historyLimit:]
	}
}

// History returns a copy of the recent advice, newest last.
func (g *Generator) History() []*Advice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Advice(nil), g.history...)
}

// GeneratorStats reports counters for the stats endpoint.
type GeneratorStats struct {
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	History   int `json:"history"`
}

// Stats returns advisory counters.
func (g *Generator) Stats() GeneratorStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GeneratorStats{Generated: g.generated, Failed: g.failed, History: len(g.history)}
}

// rankSuggestions deduplicates, scores and caps the combined suggestion
// list. Suggestions mentioning terms from the screen content rank higher,
// as do step-by-step phrasings when confusion is high.
func rankSuggestions(suggestions []string, screenCtx ScreenContext, confusionLevel float64) []string {
	type scored struct {
		text  string
		score float64
		order int
	}

	contentWords := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(screenCtx.Content)) {
		if len(w) > 3 {
			contentWords[strings.Trim(w, ".,;:!?")] = true
		}
	}

	seen := map[string]bool{}
	var ranked []scored
	for i, s := range suggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true

		score := 0.0
		for _, w := range strings.Fields(key) {
			if contentWords[strings.Trim(w, ".,;:!?")] {
				score += 1.0
			}
		}
		if confusionLevel >= 0.7 && (strings.Contains(key, "step") || strings.Contains(key, "break")) {
			score += 0.5
		}
		ranked = append(ranked, scored{text: s, score: score, order: i})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	if len(ranked) > maxSuggestions {
		ranked = ranked[:maxSuggestions]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.text
	}
	return out
}
