// Package apiclient posts accepted applications to the review API.
package apiclient

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

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL            string
	Token              string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      strings.TrimSpace(opts.Token),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateApplication sends POST /api/applications and returns the stored ID.
func (c *Client) CreateApplication(ctx context.Context, app *domain.Application) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("review api url is not configured")
	}
	body, err := json.Marshal(app)
	if err != nil {
		return "", fmt.Errorf("marshal application: %w", err)
	}

	var out createResponse
	call := func(callCtx context.Context) error {
		out = createResponse{}
		return c.post(callCtx, "/api/applications", body, &out)
	}
	if c.executor != nil {
		err = c.executor.Execute(ctx, "review_api.create_application", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		err = resilience.WrapTemporary("create application", err, resilience.ClassifyHTTPError)
		if domain.IsKind(err, domain.ErrTemporary) {
			return "", err
		}
		return "", fmt.Errorf("create application: %w", err)
	}
	if out.ID == "" {
		out.ID = app.ID
	}
	return out.ID, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("review api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("review api", "create application", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
