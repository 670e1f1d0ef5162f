package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/infrastructure/resilience"
)

// Client implements ports.ModelClient against a local Ollama server, so
// extraction can run on self-hosted vision models.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	BaseURL            string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (c *Client) Complete(ctx context.Context, req domain.ModelRequest) (domain.ModelResponse, error) {
	texts := make([]string, 0, len(req.Parts))
	var images []string
	for _, part := range req.Parts {
		if part.Image != nil {
			images = append(images, base64.StdEncoding.EncodeToString(part.Image.JPEG))
			continue
		}
		texts = append(texts, part.Text)
	}

	payload := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: strings.Join(texts, "\n\n"), Images: images},
		},
		Stream:  false,
		Format:  "json",
		Options: chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}

	operation := "ollama." + strings.TrimSpace(req.Operation)
	var response chatResponse
	call := func(callCtx context.Context) error {
		response = chatResponse{}
		return c.postJSON(callCtx, "/api/chat", payload, &response, req.Operation)
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

	out := domain.ModelResponse{
		Text:  strings.TrimSpace(response.Message.Content),
		Model: response.Model,
	}
	if out.Text == "" {
		return domain.ModelResponse{}, fmt.Errorf("ollama %s: empty response", req.Operation)
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if response.PromptEvalCount > 0 || response.EvalCount > 0 {
		out.Usage = &domain.TokenUsage{
			Input:  response.PromptEvalCount,
			Output: response.EvalCount,
			Total:  response.PromptEvalCount + response.EvalCount,
		}
	}
	return out, nil
}
