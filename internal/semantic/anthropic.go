package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// AnthropicProvider asks a Claude model to judge whether two entries describe the same activity
type AnthropicProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewAnthropic creates an AnthropicProvider
func NewAnthropic(apiKey, model string, timeout, rateInterval time.Duration) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &AnthropicProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicAPI,
		client:   &http.Client{Timeout: timeout},
		limiter:  newLimiter(rateInterval),
	}, nil
}

// Similarity returns the model's 0-1 judgement
func (p *AnthropicProvider) Similarity(ctx context.Context, a, b string) (float64, error) {
	resp, err := p.callAPI(ctx, buildPrompt(a, b))
	if err != nil {
		return 0, fmt.Errorf("api call: %w", err)
	}
	return parseSimilarity(resp)
}

func buildPrompt(a, b string) string {
	var sb strings.Builder

	sb.WriteString("Two activity log entries follow. Rate how likely they describe the same activity ")
	sb.WriteString("(for example one marks its start and the other its end). Return JSON only.\n\n")
	sb.WriteString("Entry A:\n")
	sb.WriteString(a)
	sb.WriteString("\n\nEntry B:\n")
	sb.WriteString(b)
	sb.WriteString("\n\n")
	sb.WriteString(`Return a JSON object with this structure:
{"similarity": 0.85}

Rules:
- similarity is 0.0-1.0
- 1.0 means certainly the same activity, 0.0 means unrelated
- Ignore wording about starting or finishing, compare the activity itself

Return ONLY the JSON, no other text.`)

	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) callAPI(ctx context.Context, prompt string) (string, error) {
	var text string
	err := withRetry(ctx, func() error {
		var err error
		text, err = p.callOnce(ctx, prompt)
		return err
	})
	return text, err
}

func (p *AnthropicProvider) callOnce(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	reqBody := apiRequest{
		Model:     p.model,
		MaxTokens: 64,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{Code: resp.StatusCode, Body: string(body)}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Content[0].Text, nil
}

func parseSimilarity(resp string) (float64, error) {
	// Models sometimes wrap JSON in markdown fences
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var result struct {
		Similarity *float64 `json:"similarity"`
	}
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return 0, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}
	if result.Similarity == nil {
		return 0, fmt.Errorf("response has no similarity: %s", resp)
	}
	v := *result.Similarity
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("similarity %v out of range", v)
	}
	return v, nil
}
