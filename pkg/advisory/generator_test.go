package advisory

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// failingProvider always errors, to exercise the template fallback.
type failingProvider struct{}

func (p *failingProvider) Name() string      { return "failing" }
func (p *failingProvider) Initialize() error { return nil }
func (p *failingProvider) Suggest(_ context.Context, _ Request) (*Advice, error) {
	return nil, errors.New("provider down")
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, categoryLow, categorize(0.0))
	assert.Equal(t, categoryLow, categorize(0.29))
	assert.Equal(t, categoryMedium, categorize(0.3))
	assert.Equal(t, categoryMedium, categorize(0.69))
	assert.Equal(t, categoryHigh, categorize(0.7))
	assert.Equal(t, categoryHigh, categorize(1.0))
}

func TestTemplateSuggestions_UnknownSubjectFallsBackToGeneral(t *testing.T) {
	got := templateSuggestions("astrophysics", 0.8)
	want := helpTemplates["general"][categoryHigh]
	assert.Equal(t, want, got)
}

func TestGenerator_MergesProviderAndTemplates(t *testing.T) {
	logger := testLogger()
	manager := NewManager(logger, "mock")
	require.NoError(t, manager.Register(NewMockProvider(logger)))

	g := NewGenerator(logger, manager, &StaticContextProvider{Subject: "programming"}, GeneratorConfig{Provider: "mock"})

	advice, err := g.Generate(context.Background(), 0.85)
	require.NoError(t, err)
	require.NotNil(t, advice)

	assert.Equal(t, "mock", advice.Provider)
	assert.NotEmpty(t, advice.ID)
	assert.Len(t, advice.Suggestions, maxSuggestions)
	assert.Equal(t, 0.85, advice.ConfusionLevel)
}

func TestGenerator_ProviderFailureFallsBackToTemplates(t *testing.T) {
	logger := testLogger()
	manager := NewManager(logger, "failing")
	require.NoError(t, manager.Register(&failingProvider{}))

	g := NewGenerator(logger, manager, &StaticContextProvider{Subject: "mathematics"}, GeneratorConfig{Provider: "failing"})

	advice, err := g.Generate(context.Background(), 0.9)
	require.NoError(t, err)
	require.NotNil(t, advice)

	assert.Equal(t, "templates", advice.Provider)
	assert.NotEmpty(t, advice.Suggestions)
}

func TestGenerator_NoProvidersStillReturnsAdvice(t *testing.T) {
	logger := testLogger()
	manager := NewManager(logger, "absent")

	g := NewGenerator(logger, manager, nil, GeneratorConfig{Provider: "absent"})

	advice, err := g.Generate(context.Background(), 0.5)
	require.NoError(t, err)
	require.NotNil(t, advice)
	assert.NotEmpty(t, advice.Suggestions, "templates cover a missing provider")
}

func TestGenerator_HistoryBounded(t *testing.T) {
	logger := testLogger()
	manager := NewManager(logger, "mock")
	require.NoError(t, manager.Register(NewMockProvider(logger)))

	g := NewGenerator(logger, manager, nil, GeneratorConfig{Provider: "mock"})

	for i := 0; i < historyLimit+10; i++ {
		_, err := g.Generate(context.Background(), 0.8)
		require.NoError(t, err)
	}

	assert.Len(t, g.History(), historyLimit)
	stats := g.Stats()
	assert.Equal(t, historyLimit+10, stats.Generated)
	assert.Equal(t, historyLimit, stats.History)
}

func TestRankSuggestions(t *testing.T) {
	ctx := ScreenContext{Content: "solve the quadratic equation using factoring"}

	suggestions := []string{
		"Take a short break and come back with fresh eyes.",
		"Review how factoring applies to this equation.",
		"Take a short break and come back with fresh eyes.", // duplicate
		"Break the problem into smaller steps.",
	}

	ranked := rankSuggestions(suggestions, ctx, 0.9)

	require.Len(t, ranked, 3, "duplicates removed, capped at three")
	assert.Equal(t, "Review how factoring applies to this equation.", ranked[0],
		"content-matching suggestion ranks first")
}

func TestRankSuggestions_PreservesOrderOnTies(t *testing.T) {
	ranked := rankSuggestions([]string{"first", "second", "third"}, ScreenContext{}, 0.1)
	assert.Equal(t, []string{"first", "second", "third"}, ranked)
}

func TestManager_FallsBackToDefaultProvider(t *testing.T) {
	logger := testLogger()
	manager := NewManager(logger, "mock")
	require.NoError(t, manager.Register(NewMockProvider(logger)))

	advice, err := manager.Suggest(context.Background(), "missing", Request{ConfusionLevel: 0.4})
	require.NoError(t, err)
	assert.Equal(t, "mock", advice.Provider)
}

func TestManager_NoProviderAvailable(t *testing.T) {
	manager := NewManager(testLogger(), "absent")

	_, err := manager.Suggest(context.Background(), "also-absent", Request{})
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestParseSuggestions(t *testing.T) {
	t.Run("plain JSON array", func(t *testing.T) {
		got := parseSuggestions(`["one", "two"]`)
		assert.Equal(t, []string{"one", "two"}, got)
	})

	t.Run("array embedded in prose", func(t *testing.T) {
		got := parseSuggestions("Here you go:\n[\"try an example\"]\nGood luck!")
		assert.Equal(t, []string{"try an example"}, got)
	})

	t.Run("keyword fallback", func(t *testing.T) {
		got := parseSuggestions("You should break the task down and review the concept.")
		assert.NotEmpty(t, got)
	})

	t.Run("nothing usable", func(t *testing.T) {
		assert.Empty(t, parseSuggestions("good luck"))
	})
}
