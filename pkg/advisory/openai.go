package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bci-monitor/pkg/version"
)

// OpenAIConfig holds the chat-completions client settings.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // default https://api.openai.com/v1
	Model       string // default gpt-4o-mini
	MaxTokens   int    // default 500
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider generates tutoring suggestions with an OpenAI-compatible
// chat-completions endpoint. The prompt asks for guidance that steers the
// learner's thinking without giving the answer away.
type OpenAIProvider struct {
	logger     *logrus.Logger
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAI-backed advisory provider.
func NewOpenAIProvider(logger *logrus.Logger, config OpenAIConfig) *OpenAIProvider {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 500
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.7
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	return &OpenAIProvider{
		logger:     logger,
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Initialize implements Provider.
func (p *OpenAIProvider) Initialize() error {
	if p.config.APIKey == "" {
		return fmt.Errorf("openai API key not configured")
	}
	p.logger.WithField("model", p.config.Model).Info("OpenAI advisory provider initialized")
	return nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Suggest implements Provider.
func (p *OpenAIProvider) Suggest(ctx context.Context, req Request) (*Advice, error) {
	payload := chatRequest{
		Model: p.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(req)},
		},
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling chat completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("chat completions returned no choices")
	}

	suggestions := parseSuggestions(chat.Choices[0].Message.Content)
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("no suggestions in model output")
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

// buildPrompt renders the tutoring prompt for the current screen context
// and confusion level.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI tutor helping a student who is experiencing confusion (level: %.2f/1.0).\n\n", req.ConfusionLevel)
	if req.Context.Content != "" {
		fmt.Fprintf(&b, "Screen content: %s\n", req.Context.Content)
	}
	fmt.Fprintf(&b, "Subject: %s\n\n", req.Context.Subject)
	b.WriteString("Generate 2-3 helpful, encouraging suggestions that:\n")
	b.WriteString("1. Don't give away the answer directly\n")
	b.WriteString("2. Help guide the student's thinking process\n")
	b.WriteString("3. Are appropriate for the confusion level\n")
	b.WriteString("4. Are specific to the content they're working on\n\n")
	b.WriteString("Format the answer as a JSON array of strings. Keep each suggestion under 100 characters.")
	return b.String()
}

// parseSuggestions extracts a suggestion list from the model output. It
// first looks for a JSON array (possibly embedded in surrounding text),
// then falls back to keyword-derived suggestions the way the reference
// tutor did.
func parseSuggestions(content string) []string {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			var parsed []string
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil {
				out := parsed[:0]
				for _, s := range parsed {
					if s = strings.TrimSpace(s); s != "" {
						out = append(out, s)
					}
				}
				if len(out) > 0 {
					return out
				}
			}
		}
	}

	lower := strings.ToLower(trimmed)
	var suggestions []string
	if strings.Contains(lower, "break") {
		suggestions = append(suggestions, "Try breaking this into smaller, manageable steps.")
	}
	if strings.Contains(lower, "concept") {
		suggestions = append(suggestions, "Review the underlying concepts before continuing.")
	}
	if strings.Contains(lower, "example") {
		suggestions = append(suggestions, "Work through a simpler example first.")
	}
	return suggestions
}
