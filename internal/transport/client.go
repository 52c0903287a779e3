package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/advisor-chat/internal/domain"
)

// maxErrorBody caps how much of a failed response body is kept for diagnostics.
const maxErrorBody = 2048

// Client provides an HTTP client to the assistant backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *slog.Logger
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	BaseURL        string // Versioned API root, e.g. https://host/api/v1
	RequestTimeout time.Duration
	HTTPClient     *http.Client // Optional; overrides RequestTimeout when set
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8080/api/v1",
		RequestTimeout: 15 * time.Second,
	}
}

// NewClient creates a backend client. tokens may be nil for unauthenticated use.
func NewClient(cfg ClientConfig, tokens TokenSource, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultClientConfig().RequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		logger:  logger,
	}, nil
}

// CreateSession creates a conversation session.
func (c *Client) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	var session domain.Session
	if err := c.do(ctx, http.MethodPost, "/chat/sessions", req, &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, c.decodeErr(http.MethodPost, "/chat/sessions", errors.New("missing session id"))
	}
	return &session, nil
}

// ListMessages returns a session's history oldest-first.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	path := "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	var history []domain.HistoryMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []domain.HistoryMessage{}
	}
	return history, nil
}

// SubmitMessage creates a pending assistant reply.
func (c *Client) SubmitMessage(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	var result domain.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/chat/messages", req, &result); err != nil {
		return nil, err
	}
	if result.MessageID == "" {
		return nil, c.decodeErr(http.MethodPost, "/chat/messages", errors.New("missing messageId"))
	}
	return &result, nil
}

// MessageStatus reports the state of a pending reply.
func (c *Client) MessageStatus(ctx context.Context, messageID string) (*domain.StatusResult, error) {
	path := "/chat/messages/" + url.PathEscape(messageID) + "/status"
	var result domain.StatusResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RequestError{Method: method, Path: path, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(ctx, req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Method: method, Path: path, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "path", path, "error", closeErr)
		}
	}()

	c.logger.Debug("Backend request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cause := fmt.Errorf("%w: %s", ErrTransport, http.StatusText(resp.StatusCode))
		if resp.StatusCode == http.StatusUnauthorized {
			cause = fmt.Errorf("%w: %w", ErrTransport, ErrUnauthorized)
		}
		return &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			Err:        cause,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.decodeErr(method, path, err)
	}
	return nil
}

func (c *Client) decodeErr(method, path string, err error) error {
	return &RequestError{Method: method, Path: path, Err: fmt.Errorf("%w: %w", ErrDecoding, err)}
}

// authorize attaches the bearer token when one is available.
func (c *Client) authorize(ctx context.Context, req *http.Request) {
	if c.tokens == nil {
		return
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Warn("failed to read bearer token, sending request unauthenticated", "error", err)
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
