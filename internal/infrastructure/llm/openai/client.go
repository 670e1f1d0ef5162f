package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/infrastructure/resilience"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.openai.com/v1"

var errMissingAPIKey = errors.New("openai api key is not configured")

type Options struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	RequestsPerSecond  float64
	Burst              int
	ResilienceExecutor *resilience.Executor
}

// Client speaks the chat-completions protocol.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		executor:   opts.ResilienceExecutor,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one system + user turn and returns the first choice.
func (c *Client) Complete(ctx context.Context, req domain.ModelRequest) (domain.ModelResponse, error) {
	if c.apiKey == "" {
		return domain.ModelResponse{}, errMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ModelResponse{}, fmt.Errorf("openai rate limiter: %w", err)
	}

	payload := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: userContent(req.Parts)},
		},
	}

	operation := "openai." + strings.TrimSpace(req.Operation)
	var response chatResponse
	call := func(callCtx context.Context) error {
		response = chatResponse{}
		return c.postJSON(callCtx, "/chat/completions", payload, &response, req.Operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ModelResponse{}, resilience.WrapTemporary(operation, err, resilience.ClassifyHTTPError)
	}
	if len(response.Choices) == 0 {
		return domain.ModelResponse{}, fmt.Errorf("openai %s: no choices in response", req.Operation)
	}

	out := domain.ModelResponse{
		Text:  strings.TrimSpace(response.Choices[0].Message.Content),
		Model: response.Model,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if response.Usage != nil {
		out.Usage = &domain.TokenUsage{
			Input:  response.Usage.PromptTokens,
			Output: response.Usage.CompletionTokens,
			Total:  response.Usage.TotalTokens,
		}
	}
	return out, nil
}

// userContent keeps plain string content for text-only turns.
func userContent(parts []domain.ContentPart) any {
	hasImage := false
	for _, part := range parts {
		if part.Image != nil {
			hasImage = true
			break
		}
	}
	if !hasImage {
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			texts = append(texts, part.Text)
		}
		return strings.Join(texts, "\n\n")
	}

	out := make([]contentPart, 0, len(parts))
	for _, part := range parts {
		if part.Image != nil {
			out = append(out, contentPart{
				Type: "image_url",
				ImageURL: &imageURL{
					URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(part.Image.JPEG),
					Detail: "high",
				},
			})
			continue
		}
		out = append(out, contentPart{Type: "text", Text: part.Text})
	}
	return out
}
