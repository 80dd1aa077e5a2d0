package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultModel is used when no model is configured.
const DefaultModel = "llama-3.3-70b-versatile"

// OpenAIClient implements the Client interface against any OpenAI-compatible
// chat completions API.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	Model   string // e.g., "llama-3.3-70b-versatile"
	BaseURL string // e.g., "https://api.openai.com/v1"
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// chatRequest represents an OpenAI chat completion request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents an OpenAI chat completion response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends messages and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	chatMsgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		chatMsgs = append(chatMsgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	req := chatRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM API error: %s - %s", resp.Status, string(respBody))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if u := usageFrom(ctx); u != nil {
		u.InputTokens.Add(chatResp.Usage.PromptTokens)
		u.OutputTokens.Add(chatResp.Usage.CompletionTokens)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) prompt(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	return c.Complete(ctx, []Message{{Role: "user", Content: prompt}}, temperature, maxTokens)
}

// ClassifyTurn judges whether transcript is a finished answer to question.
func (c *OpenAIClient) ClassifyTurn(ctx context.Context, transcript, question string) (*TurnVerdict, error) {
	content, err := c.prompt(ctx, BuildTurnDetectionPrompt(transcript, question), 0.3, 200)
	if err != nil {
		return nil, err
	}

	var v TurnVerdict
	if err := decodeJSON(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse turn verdict: %w", err)
	}
	return &v, nil
}

// GenerateQuestion returns one trimmed interview question.
func (c *OpenAIClient) GenerateQuestion(ctx context.Context, prompt string) (string, error) {
	content, err := c.prompt(ctx, prompt, 0.8, 150)
	if err != nil {
		return "", err
	}
	q := strings.Trim(strings.TrimSpace(content), `"`)
	if q == "" {
		return "", fmt.Errorf("empty question in response")
	}
	return q, nil
}

// AnalyzeInterview scores the answered questions.
func (c *OpenAIClient) AnalyzeInterview(ctx context.Context, interviewType string, answers []QA) (*Scores, error) {
	content, err := c.prompt(ctx, BuildAnalysisPrompt(interviewType, answers), 0.3, 1500)
	if err != nil {
		return nil, err
	}

	var s Scores
	if err := decodeJSON(content, &s); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return &s, nil
}

// ProbableAnswers suggests a model answer for each question.
func (c *OpenAIClient) ProbableAnswers(ctx context.Context, questions []QA) ([]ModelAnswer, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	content, err := c.prompt(ctx, BuildProbableAnswersPrompt(questions), 0.5, 2000)
	if err != nil {
		return nil, err
	}

	var answers []ModelAnswer
	if err := decodeJSON(content, &answers); err != nil {
		return nil, fmt.Errorf("failed to parse probable answers: %w", err)
	}
	return answers, nil
}

// decodeJSON parses a model reply, tolerating markdown code fences.
func decodeJSON(content string, v any) error {
	content = stripCodeFence(content)
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("%w (content: %s)", err, truncate(content, 200))
	}
	return nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
