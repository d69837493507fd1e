// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/sessionchat/internal/model"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for the OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 120 * time.Second

	// DefaultSiteName is sent as X-Title.
	DefaultSiteName = "sessionchat"

	// DefaultSiteURL is sent as HTTP-Referer.
	DefaultSiteURL = "https://github.com/jeranaias/sessionchat"

	// MaxResponseSize is the maximum accepted response body size.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "sessionchat/1.0"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is one entry of the messages array. Content marshals as a
// string or as a part array.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content model.Content `json:"content"`
}

// ChatRequest is the body of POST /chat/completions.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse is the subset of the completion response that is consumed.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Content returns the first choice's message content, or a ProtocolError
// wrapping ErrMalformedResponse when it is missing.
func (r *ChatResponse) Content() (string, error) {
	if len(r.Choices) == 0 || r.Choices[0].Message.Content == nil {
		return "", &ProtocolError{
			Status:  http.StatusOK,
			Message: "response has no choices[0].message.content",
			Kind:    ErrMalformedResponse,
		}
	}
	return *r.Choices[0].Message.Content, nil
}

type modelsResponse struct {
	Data []model.ModelData `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL  string
	SiteURL  string
	SiteName string
	Timeout  time.Duration

	// RequestsPerSecond and Burst shape outbound traffic. A zero rate
	// disables limiting.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to an OpenRouter-compatible API. It holds no credential; the
// API key is supplied per call so settings changes apply immediately.
type Client struct {
	baseURL    string
	siteURL    string
	siteName   string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient creates a client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		siteURL:    opts.SiteURL,
		siteName:   opts.SiteName,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultOpenRouterURL
	}
	if c.siteURL == "" {
		c.siteURL = DefaultSiteURL
	}
	if c.siteName == "" {
		c.siteName = DefaultSiteName
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete posts a chat completion request using apiKey as the bearer
// credential.
//
// Errors are *TransportError when no response arrived and *ProtocolError
// for non-2xx statuses or unusable bodies. A nil error guarantees that
// resp.Content() succeeds.
func (c *Client) Complete(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	const op = "chat completion"

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, apiKey)

	status, body, err := c.do(op, httpReq)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, c.handleErrorResponse(status, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &ProtocolError{
			Status:  status,
			Message: fmt.Sprintf("failed to parse response: %v", err),
			Kind:    ErrMalformedResponse,
		}
	}
	if _, err := chatResp.Content(); err != nil {
		return nil, err
	}

	c.log.Debug("completion_received",
		zap.String("model", chatResp.Model),
		zap.Int("total_tokens", chatResp.Usage.TotalTokens),
		zap.String("key", KeyFingerprint(apiKey)),
	)
	return &chatResp, nil
}

// ListModels retrieves the model catalog. The endpoint needs no credential.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelData, error) {
	const op = "list models"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	status, body, err := c.do(op, httpReq)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, c.handleErrorResponse(status, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, &ProtocolError{
			Status:  status,
			Message: fmt.Sprintf("failed to parse models response: %v", err),
			Kind:    ErrMalformedResponse,
		}
	}
	if modelsResp.Data == nil {
		modelsResp.Data = []model.ModelData{}
	}
	return modelsResp.Data, nil
}

// do waits for the limiter, performs the request, and reads the body.
func (c *Client) do(op string, req *http.Request) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return 0, nil, &TransportError{Op: op, Err: err}
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)

	// Keep the credential out of anything that might log the request later.
	req.Header.Del("Authorization")

	if err != nil {
		c.log.Warn("request_failed", zap.String("op", op), zap.Error(err))
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}

	c.log.Debug("request_done",
		zap.String("op", op),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp.StatusCode, body, nil
}

// setHeaders sets the headers OpenRouter expects on authenticated calls.
func (c *Client) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response into a ProtocolError.
func (c *Client) handleErrorResponse(status int, body []byte) error {
	perr := &ProtocolError{Status: status, Kind: kindForStatus(status)}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		perr.Message = apiErr.Error.Message
		perr.Code = strings.Trim(string(apiErr.Error.Code), `"`)
	} else {
		perr.Message = strings.TrimSpace(string(body))
		if len(perr.Message) > 200 {
			perr.Message = perr.Message[:200]
		}
	}

	c.log.Info("provider_error", zap.Int("status", status), zap.String("code", perr.Code))
	return perr
}

// =============================================================================
// CREDENTIAL HELPERS
// =============================================================================

// KeyFingerprint returns a short SHA-256 fingerprint of an API key that is
// safe to log.
func KeyFingerprint(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:4])
}

// ValidateAPIKey reports whether the key looks like an OpenRouter key. It
// does not contact the provider.
func ValidateAPIKey(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)
	if !strings.HasPrefix(apiKey, "sk-or-") {
		return false
	}
	return len(apiKey) >= 20
}

// IsContextError reports whether err came from context cancellation.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
