package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxResponseSizeBytes = 1 << 20

type Config struct {
	URL     string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token   string        `split_words:"true" required:"true"`
	Retries int           `split_words:"true" default:"3"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL    string
	token      string
	retries    int
	httpClient *http.Client
}

// PublishRequest is one message delivered by QStash to Destination.
type PublishRequest struct {
	Destination      string
	Body             any
	DeduplicationID  string
	ForwardedHeaders map[string]string
}

type PublishResponse struct {
	MessageID    string `json:"messageId"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("qstash token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		retries: cfg.Retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

func MustNew(cfg Config, opts ...Option) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// Publish enqueues a JSON message for at-least-once delivery to the destination.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return PublishResponse{}, errors.New("qstash destination is required")
	}

	body, err := json.Marshal(req.Body)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("marshal qstash body: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + destination
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return PublishResponse{}, fmt.Errorf("build qstash request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.retries >= 0 {
		httpReq.Header.Set("Upstash-Retries", strconv.Itoa(c.retries))
	}
	if id := strings.TrimSpace(req.DeduplicationID); id != "" {
		httpReq.Header.Set("Upstash-Deduplication-Id", id)
	}
	for k, v := range req.ForwardedHeaders {
		httpReq.Header.Set("Upstash-Forward-"+k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PublishResponse{}, fmt.Errorf("execute qstash request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return PublishResponse{}, fmt.Errorf("read qstash response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return PublishResponse{}, fmt.Errorf("qstash http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out PublishResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return PublishResponse{}, fmt.Errorf("decode qstash response: %w", err)
	}
	if out.MessageID == "" {
		return PublishResponse{}, errors.New("qstash response has no message id")
	}
	return out, nil
}
