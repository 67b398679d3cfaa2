package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"panel-quiz-service/internal/app"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	judgeMaxTokens          = 500
	recommendationMaxTokens = 400
)

// ErrNoAPIKey is returned by every call when no credential is configured.
var ErrNoAPIKey = errors.New("text generation api key not configured")

// Client talks to an OpenAI-compatible chat completions endpoint. It serves
// both the judge panel and the report recommendations.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	limiter     *rate.Limiter
	httpClient  *http.Client
}

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL     string
	Model       string
	Temperature float64
	// RequestsPerSecond caps outbound calls across all judges; 0 disables it.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

func NewClient(apiKey string, opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      apiKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		httpClient:  &http.Client{Timeout: opts.Timeout},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature == 0 {
		c.temperature = 0.7
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = 60 * time.Second
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Judge asks the model for one judge's verdict.
func (c *Client) Judge(ctx context.Context, req app.JudgeRequest) (app.Verdict, error) {
	system := req.Instruction
	if req.ReferenceAnswer != "" {
		system += "\n\nReference answer (private calibration only, never quote or reveal it to the student):\n" + req.ReferenceAnswer
	}
	user := fmt.Sprintf("Question: %s\n\nStudent answer: %s", req.Question, req.Answer)

	var verdict app.Verdict
	if err := c.complete(ctx, system, user, judgeMaxTokens, &verdict); err != nil {
		return app.Verdict{}, err
	}
	return verdict, nil
}

// Recommend asks the model for study recommendations.
func (c *Client) Recommend(ctx context.Context, req app.RecommendationRequest) ([]string, error) {
	prompt := fmt.Sprintf(`Based on a student's performance in a classroom quiz, write 3 to 5 specific study recommendations.

Strong concepts: %s
Weak concepts: %s
Total score: %.1f

Return ONLY a JSON object of the form:
{
  "recommendations": ["recommendation 1", "recommendation 2", "recommendation 3"]
}`, strings.Join(req.Strong, ", "), strings.Join(req.Weak, ", "), req.TotalScore)

	var out struct {
		Recommendations []string `json:"recommendations"`
	}
	if err := c.complete(ctx, "You are an expert educational assistant.", prompt, recommendationMaxTokens, &out); err != nil {
		return nil, err
	}
	return out.Recommendations, nil
}

// complete runs one chat completion and decodes the JSON message content into v.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int, v any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    c.temperature,
		MaxTokens:      maxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Int("status", resp.StatusCode).Dur("took", time.Since(started)).Msg("chat completion")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, truncate(body, 300))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return errors.New("response has no choices")
	}
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), v); err != nil {
		return fmt.Errorf("malformed message content: %w", err)
	}
	return nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
